package distill

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/middleman/pattern"
	"github.com/hazyhaar/middleman/selector"
)

const livePage = `<html><head><title>Live</title></head><body>
<h1>  Headlines  </h1>
<ul class="news"><li>one</li><li>two</li></ul>
<input id="user" name="user" value="alice">
<iframe id="a" srcdoc="&lt;span class=&quot;title&quot;&gt;framed&lt;/span&gt;"></iframe>
</body></html>`

func newMatcher() *Matcher {
	r := selector.NewResolver(time.Second, nil)
	r.Pace = selector.Pace{}
	return New(r, nil)
}

func mustPattern(t *testing.T, name, markup string) *pattern.Pattern {
	t.Helper()
	p, err := pattern.Parse(name, markup)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func mustPage(t *testing.T, markup string) *selector.StaticPage {
	t.Helper()
	p, err := selector.NewStaticPage(markup)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func distill(t *testing.T, hostname string, page selector.Page, ps ...*pattern.Pattern) *Match {
	t.Helper()
	m, err := newMatcher().Distill(context.Background(), hostname, page, ps)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDistill_SmallestPriorityWins(t *testing.T) {
	page := mustPage(t, livePage)
	high := mustPattern(t, "high.html", `<html gg-priority="5"><body><h1 gg-match="h1"></h1></body></html>`)
	low := mustPattern(t, "low.html", `<html gg-priority="2"><body><h1 gg-match="h1"></h1></body></html>`)

	m := distill(t, "example.com", page, high, low)
	if m == nil || m.Name != "low.html" {
		t.Fatalf("expected low.html, got %+v", m)
	}
	if m.Priority != 2 {
		t.Errorf("priority: got %d", m.Priority)
	}
}

func TestDistill_TiesKeepLibraryOrder(t *testing.T) {
	page := mustPage(t, livePage)
	a := mustPattern(t, "a.html", `<html gg-priority="1"><body><h1 gg-match="h1"></h1></body></html>`)
	b := mustPattern(t, "b.html", `<html gg-priority="1"><body><h1 gg-match="h1"></h1></body></html>`)
	if m := distill(t, "", page, a, b); m.Name != "a.html" {
		t.Errorf("expected a.html, got %s", m.Name)
	}
	if m := distill(t, "", page, b, a); m.Name != "b.html" {
		t.Errorf("expected b.html, got %s", m.Name)
	}
}

func TestDistill_MissingPriorityOutranks(t *testing.T) {
	page := mustPage(t, livePage)
	explicit := mustPattern(t, "explicit.html", `<html gg-priority="0"><body><h1 gg-match="h1"></h1></body></html>`)
	implicit := mustPattern(t, "implicit.html", `<html><body><h1 gg-match="h1"></h1></body></html>`)
	if m := distill(t, "", page, explicit, implicit); m.Name != "implicit.html" {
		t.Errorf("expected pattern without priority (-1) to win, got %s", m.Name)
	}
}

func TestDistill_DomainGate(t *testing.T) {
	page := mustPage(t, livePage)
	p := mustPattern(t, "bound.html", `<html gg-domain="Example.com"><body><h1 gg-match="h1"></h1></body></html>`)

	if m := distill(t, "news.other.org", page, p); m != nil {
		t.Errorf("domain mismatch selected: %+v", m)
	}
	if m := distill(t, "www.example.com", page, p); m == nil {
		t.Error("case-insensitive domain substring should match")
	}
	if m := distill(t, "localhost", page, p); m == nil {
		t.Error("local hostname should bypass the domain gate")
	}
	if m := distill(t, "127.0.0.1", page, p); m == nil {
		t.Error("loopback address should bypass the domain gate")
	}
}

func TestDistill_RequiredTargetMissing(t *testing.T) {
	page := mustPage(t, livePage)
	p := mustPattern(t, "p.html", `<html><body>
<h1 gg-match="h1" gg-optional></h1>
<ul gg-match-html="ul.news" gg-optional></ul>
<p gg-match="p.absent"></p>
</body></html>`)
	if m := distill(t, "", page, p); m != nil {
		t.Errorf("pattern with unmet required target selected: %+v", m)
	}
}

func TestDistill_ZeroMatchedTargets(t *testing.T) {
	page := mustPage(t, livePage)
	onlyOptional := mustPattern(t, "opt.html", `<html><body><p gg-match="p.absent" gg-optional></p></body></html>`)
	noTargets := mustPattern(t, "none.html", `<html><body><p>static</p></body></html>`)
	if m := distill(t, "", page, onlyOptional, noTargets); m != nil {
		t.Errorf("pattern with zero matched targets selected: %+v", m)
	}
}

func TestDistill_FillsTemplate(t *testing.T) {
	page := mustPage(t, livePage)
	p := mustPattern(t, "fill.html", `<html><body>
<h1 gg-match="h1">placeholder</h1>
<ul gg-match-html="ul.news"><li>stale</li></ul>
<input type="text" name="user" gg-match="#user">
<span gg-match="iframe#a span.title"></span>
<em gg-match="em.absent" gg-optional>kept</em>
</body></html>`)

	m := distill(t, "", page, p)
	if m == nil {
		t.Fatal("expected match")
	}
	for _, want := range []string{
		`<h1 gg-match="h1">Headlines</h1>`,
		`<ul gg-match-html="ul.news"><li>one</li><li>two</li></ul>`,
		`value="alice"`,
		`<span gg-match="iframe#a span.title">framed</span>`,
		`<em gg-match="em.absent" gg-optional="">kept</em>`,
	} {
		if !strings.Contains(m.Distilled, want) {
			t.Errorf("distilled missing %q\n%s", want, m.Distilled)
		}
	}
	if strings.Contains(m.Distilled, "stale") {
		t.Error("markup target was not cleared")
	}
}

func TestDistill_Idempotent(t *testing.T) {
	page := mustPage(t, livePage)
	p := mustPattern(t, "p.html", `<html><body><h1 gg-match="h1"></h1><ul gg-match-html="ul.news"></ul></body></html>`)
	first := distill(t, "", page, p)
	second := distill(t, "", page, p)
	if first == nil || second == nil {
		t.Fatal("expected matches")
	}
	if first.Distilled != second.Distilled {
		t.Errorf("distillation not stable:\n%s\n---\n%s", first.Distilled, second.Distilled)
	}
}

func TestDistill_CancelledContext(t *testing.T) {
	page := mustPage(t, livePage)
	p := mustPattern(t, "p.html", `<html><body><h1 gg-match="h1"></h1></body></html>`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, err := newMatcher().Distill(ctx, "", page, []*pattern.Pattern{p})
	if err == nil || m != nil {
		t.Errorf("expected context error, got %+v, %v", m, err)
	}
}

func TestIsLocal(t *testing.T) {
	for host, want := range map[string]bool{
		"localhost":     true,
		"127.0.0.1":     true,
		"app.localhost": true,
		"example.com":   false,
	} {
		if got := IsLocal(host); got != want {
			t.Errorf("IsLocal(%q) = %v", host, got)
		}
	}
}

// liveInputPage reports input text the way a browser does: the value, or
// the placeholder when the value is empty.
type liveInputPage struct{ selector.Page }

func (p liveInputPage) Query(ctx context.Context, css string) ([]selector.Node, error) {
	nodes, err := p.Page.Query(ctx, css)
	for i, n := range nodes {
		if tag, _ := n.Tag(ctx); tag == "input" {
			nodes[i] = placeholderNode{n}
		}
	}
	return nodes, err
}

type placeholderNode struct{ selector.Node }

func (n placeholderNode) Text(ctx context.Context) (string, error) {
	if v, _ := n.Node.Value(ctx); v != "" {
		return v, nil
	}
	return "Email address", nil
}

func TestDistill_InputTextStaysInValue(t *testing.T) {
	page := liveInputPage{mustPage(t, `<html><body><form>
<input type="email" id="email" name="email" placeholder="Email address">
<input type="password" id="password" name="password" value="hunter2">
<button type="submit" id="go">Sign in</button>
</form></body></html>`)}
	p := mustPattern(t, "login.html", `<html><body><form>
<input type="email" name="email" gg-match="#email">
<input type="password" name="password" gg-match="#password">
<button type="submit" gg-match="#go"></button>
<p gg-stop>x</p>
</form></body></html>`)

	m := distill(t, "", page, p)
	if m == nil {
		t.Fatal("expected match")
	}
	for _, want := range []string{
		`name="password"`,
		`value="hunter2"`,
		`<button type="submit" gg-match="#go">Sign in</button>`,
		`gg-stop`,
		`</html>`,
	} {
		if !strings.Contains(m.Distilled, want) {
			t.Errorf("distilled missing %q\n%s", want, m.Distilled)
		}
	}
	if strings.Contains(m.Distilled, "Email address</input>") || strings.Contains(m.Distilled, ">Email address") {
		t.Errorf("input text leaked into the template\n%s", m.Distilled)
	}
}
