package automate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/middleman/browser"
	"github.com/hazyhaar/middleman/convert"
	"github.com/hazyhaar/middleman/distill"
	"github.com/hazyhaar/middleman/history"
	"github.com/hazyhaar/middleman/secrets"
	"github.com/hazyhaar/middleman/selector"
	"github.com/hazyhaar/middleman/session"
)

const donePage = `<html><body><p id="done">Welcome back</p></body></html>`

const donePattern = `<html><head><title>Done</title></head><body><p gg-match="#done" gg-stop></p></body></html>`

type memRecorder struct{ entries []history.Entry }

func (r *memRecorder) Record(_ context.Context, e history.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

type fixture struct {
	machine  *Machine
	sessions *session.Manager
	page     *selector.StaticPage
	tab      *browser.StaticTab
	sess     *session.Session
	recorder *memRecorder
}

func newFixture(t *testing.T, live string, patterns map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, markup := range patterns {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(markup), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	page, err := selector.NewStaticPage(live)
	if err != nil {
		t.Fatal(err)
	}
	resolver := selector.NewResolver(time.Second, nil)
	resolver.Pace = selector.Pace{}

	f := &fixture{
		sessions: session.NewManager(nil),
		page:     page,
		tab:      browser.NewStaticTab(page),
		recorder: &memRecorder{},
	}
	f.machine = New(Config{
		Tick:     time.Millisecond,
		Timeout:  30 * time.Millisecond,
		Patterns: dir,
	}, f.sessions, distill.New(resolver, nil), WithRecorder(f.recorder))
	f.sess = f.sessions.Adopt("http://localhost/login", "localhost", f.tab)
	return f
}

// navigateOn swaps the live document when the element labelled label is
// clicked.
func (f *fixture) navigateOn(label, markup string) {
	f.page.OnClick(func(l string) {
		if l == label {
			f.page.SetHTML(markup)
		}
	})
}

func TestIterations(t *testing.T) {
	c := Config{}
	c.defaults()
	if c.Iterations() != 15 {
		t.Errorf("default iterations: got %d, want 15", c.Iterations())
	}
	if n := (Config{Tick: time.Second, Timeout: 100 * time.Millisecond}).Iterations(); n != 1 {
		t.Errorf("iterations floor: got %d", n)
	}
}

const loginLive = `<html><body><form>
<input id="user" name="user">
<input type="checkbox" id="keep" name="keep">
<button type="submit" id="go">Go</button>
</form></body></html>`

const loginPattern = `<html><head><title>Sign in</title></head><body><form>
<input type="text" name="user" gg-match="#user">
<input type="checkbox" name="keep" gg-match="#keep">
<button type="submit" gg-match="#go">Go</button>
</form></body></html>`

func TestContinue_FormFill(t *testing.T) {
	f := newFixture(t, loginLive, map[string]string{"login.html": loginPattern, "done.html": donePattern})
	f.navigateOn("#go", donePage)
	ctx := context.Background()

	out, err := f.machine.Continue(ctx, f.sess.ID, map[string]string{"user": "alice"})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if out.Kind != OutcomeForm {
		t.Fatalf("first call: got %v, want form", out.Kind)
	}
	if len(f.page.Clicks()) != 0 {
		t.Fatalf("nothing should be clicked with a missing field, got %v", f.page.Clicks())
	}
	if out.Title != "Sign in" || !strings.Contains(out.Body, `value="alice"`) {
		t.Errorf("partial form: title %q body %s", out.Title, out.Body)
	}
	if f.sessions.Len() != 1 {
		t.Fatal("session should stay open while the form is incomplete")
	}

	out, err = f.machine.Continue(ctx, f.sess.ID, map[string]string{"user": "alice", "keep": "on"})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if want := []string{"#keep", "#go"}; !reflect.DeepEqual(f.page.Clicks(), want) {
		t.Errorf("clicks: got %v, want %v", f.page.Clicks(), want)
	}
	if out.Kind != OutcomeDocument || !out.Terminal || !strings.Contains(out.Body, "Welcome back") {
		t.Errorf("unexpected outcome %+v", out)
	}
	if f.sessions.Len() != 0 || !f.tab.Closed() {
		t.Error("terminal state should finalize the session")
	}
	if len(f.recorder.entries) != 2 || f.recorder.entries[0].Outcome != "form" || f.recorder.entries[1].Outcome != "document" {
		t.Errorf("history: %+v", f.recorder.entries)
	}
}

func TestContinue_Timeout(t *testing.T) {
	f := newFixture(t, `<html><body><h1>Hello</h1></body></html>`, map[string]string{
		"static.html": `<html><body><h1 gg-match="h1"></h1></body></html>`,
	})
	done := make(chan error, 1)
	go func() {
		_, err := f.machine.Continue(context.Background(), f.sess.ID, nil)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("automation did not stop")
	}
	if f.recorder.entries[0].Outcome != "timeout" {
		t.Errorf("history outcome: %q", f.recorder.entries[0].Outcome)
	}
}

func TestContinue_NoMatchTimesOut(t *testing.T) {
	f := newFixture(t, `<html><body></body></html>`, map[string]string{
		"absent.html": `<html><body><p gg-match="p.absent"></p></body></html>`,
	})
	if _, err := f.machine.Continue(context.Background(), f.sess.ID, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestContinue_UnknownSession(t *testing.T) {
	f := newFixture(t, donePage, map[string]string{"done.html": donePattern})
	if _, err := f.machine.Continue(context.Background(), "nope", nil); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContinue_FinalizedWhileWaiting(t *testing.T) {
	f := newFixture(t, `<html><body></body></html>`, map[string]string{
		"absent.html": `<html><body><p gg-match="p.absent"></p></body></html>`,
	})

	f.sess.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := f.machine.Continue(context.Background(), f.sess.ID, nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	f.sessions.Finalize(context.Background(), f.sess.ID)
	f.sess.Unlock()

	select {
	case err := <-done:
		if !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("continue did not return")
	}
}

func TestContinue_TerminalRecords(t *testing.T) {
	live := `<html><body><ol id="shelf"><li><b>Dune</b><i>scifi</i><i>classic</i></li><li><b>Emma</b></li></ol></body></html>`
	shelf := `<html><head><title>Shelf</title></head><body gg-stop>
<ol gg-match-html="#shelf"></ol>
<script type="application/json">{"rows": "ol > li", "columns": [
 {"name": "title", "selector": "b"}, {"name": "tags", "selector": "i", "kind": "list"}]}</script>
</body></html>`
	f := newFixture(t, live, map[string]string{"shelf.html": shelf})

	out, err := f.machine.Continue(context.Background(), f.sess.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != OutcomeRecords {
		t.Fatalf("kind: got %v", out.Kind)
	}
	want := []convert.Record{
		{"title": "Dune", "tags": []string{"scifi", "classic"}},
		{"title": "Emma", "tags": []string{}},
	}
	if !reflect.DeepEqual(out.Records, want) {
		t.Errorf("records: got %#v", out.Records)
	}
	if e := f.recorder.entries[0]; e.Outcome != "records" || e.Records != 2 || e.Pattern != "shelf.html" {
		t.Errorf("history: %+v", e)
	}
}

func TestContinue_ButtonField(t *testing.T) {
	live := `<html><body><button id="sms">Send SMS</button><button id="mail">Send email</button></body></html>`
	choose := `<html><body>
<button value="sms" gg-match="#sms"></button>
<button value="email" gg-match="#mail"></button>
</body></html>`
	f := newFixture(t, live, map[string]string{"choose.html": choose, "done.html": donePattern})
	f.navigateOn("#mail", donePage)

	out, err := f.machine.Continue(context.Background(), f.sess.ID, map[string]string{"button": "email"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Terminal {
		t.Errorf("expected terminal outcome, got %+v", out)
	}
	if want := []string{"#mail"}; !reflect.DeepEqual(f.page.Clicks(), want) {
		t.Errorf("clicks: got %v", f.page.Clicks())
	}
}

func TestContinue_RadioGroup(t *testing.T) {
	live := `<html><body>
<input type="radio" id="r1" name="via"><input type="radio" id="r2" name="via">
<button type="submit" id="go">Next</button>
</body></html>`
	choose := `<html><body>
<input type="radio" id="r1" name="via" gg-match="#r1"><label for="r1">SMS</label>
<input type="radio" id="r2" name="via" gg-match="#r2"><label for="r2">Email</label>
<button type="submit" gg-match="#go"></button>
</body></html>`
	f := newFixture(t, live, map[string]string{"choose.html": choose, "done.html": donePattern})
	f.navigateOn("#go", donePage)

	if _, err := f.machine.Continue(context.Background(), f.sess.ID, map[string]string{"via": "r2"}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"#r2", "#go"}; !reflect.DeepEqual(f.page.Clicks(), want) {
		t.Errorf("clicks: got %v, want %v", f.page.Clicks(), want)
	}
}

type fakePrompter struct {
	asked  []string
	masked []bool
	answer string
	choice int
}

func (p *fakePrompter) Ask(_ context.Context, message string, masked bool) (string, error) {
	p.asked = append(p.asked, message)
	p.masked = append(p.masked, masked)
	return p.answer, nil
}

func (p *fakePrompter) Choose(context.Context, string, []string) (int, error) {
	return p.choice, nil
}

func TestRun_SecretsThenPrompt(t *testing.T) {
	live := `<html><body>
<input id="user" name="user"><input type="password" id="pass" name="pass">
<button type="submit" id="go">Sign in</button>
</body></html>`
	login := `<html><body>
<input type="text" name="user" gg-match="#user">
<input type="password" name="pass" gg-match="#pass" placeholder="Password">
<button type="submit" gg-match="#go"></button>
</body></html>`
	f := newFixture(t, live, map[string]string{"login.html": login, "done.html": donePattern})

	var submitted string
	f.page.OnClick(func(label string) {
		if label == "#go" {
			submitted = f.page.HTML()
			f.page.SetHTML(donePage)
		}
	})

	prompter := &fakePrompter{answer: "s3cret"}
	out, err := f.machine.Run(context.Background(), f.sess, Filler{
		Secrets:  secrets.FromMap(map[string]string{"USER": "alice"}),
		Prompter: prompter,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Terminal {
		t.Errorf("expected terminal outcome, got %+v", out)
	}
	if !reflect.DeepEqual(prompter.asked, []string{"Password"}) || !prompter.masked[0] {
		t.Errorf("prompts: %v masked %v", prompter.asked, prompter.masked)
	}
	if !strings.Contains(submitted, `value="alice"`) || !strings.Contains(submitted, `value="s3cret"`) {
		t.Errorf("form not filled before submit:\n%s", submitted)
	}
	if f.sessions.Len() != 0 || !f.tab.Closed() {
		t.Error("Run must finalize the session")
	}
}

func TestRun_TimeoutFinalizes(t *testing.T) {
	f := newFixture(t, `<html><body><h1>Hi</h1></body></html>`, map[string]string{
		"static.html": `<html><body><h1 gg-match="h1"></h1></body></html>`,
	})
	if _, err := f.machine.Run(context.Background(), f.sess, Filler{}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if f.sessions.Len() != 0 {
		t.Error("Run must finalize the session on timeout")
	}
}

func TestOnce(t *testing.T) {
	f := newFixture(t, `<html><body><h1>Hi</h1></body></html>`, map[string]string{
		"static.html": `<html><head><title>Greeting</title></head><body><h1 gg-match="h1"></h1></body></html>`,
	})
	out, err := f.machine.Once(context.Background(), f.sess)
	if err != nil {
		t.Fatal(err)
	}
	if out.Terminal || out.Kind != OutcomeDocument || out.Title != "Greeting" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if !strings.Contains(out.Distilled, "<h1 gg-match=\"h1\">Hi</h1>") {
		t.Errorf("distilled: %s", out.Distilled)
	}
	if f.sessions.Len() != 1 {
		t.Error("Once must not finalize")
	}
}

func TestOnce_NoMatch(t *testing.T) {
	f := newFixture(t, `<html><body></body></html>`, map[string]string{
		"absent.html": `<html><body><p gg-match="p.absent"></p></body></html>`,
	})
	if _, err := f.machine.Once(context.Background(), f.sess); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}
