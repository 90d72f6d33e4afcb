package pattern

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestParse_DomainAndPriority(t *testing.T) {
	p, err := Parse("x.html", `<html gg-domain="Example.com" gg-priority="= 7"><body></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Domain != "Example.com" {
		t.Errorf("domain: got %q", p.Domain)
	}
	if p.Priority != 7 {
		t.Errorf("priority: got %d, want 7", p.Priority)
	}
}

func TestParse_PriorityDefaults(t *testing.T) {
	cases := map[string]string{
		"absent":      `<html><body></body></html>`,
		"empty":       `<html gg-priority=""><body></body></html>`,
		"not integer": `<html gg-priority="high"><body></body></html>`,
	}
	for name, markup := range cases {
		p, err := Parse(name, markup)
		if err != nil {
			t.Fatal(err)
		}
		if p.Priority != DefaultPriority {
			t.Errorf("%s: priority %d, want %d", name, p.Priority, DefaultPriority)
		}
	}
}

func TestParseTemplate_TargetOrder(t *testing.T) {
	tpl, err := ParseTemplate(`<html><body>
<div gg-match-html="ul.a"></div>
<h1 gg-match="h1"></h1>
<div gg-match-html="ul.b" gg-optional></div>
<p gg-match="iframe#f p.x" gg-optional></p>
<span gg-match="x" gg-match-html="y"></span>
</body></html>`)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, tg := range tpl.Targets {
		kind := "text"
		if tg.Markup {
			kind = "markup"
		}
		opt := ""
		if tg.Optional {
			opt = "?"
		}
		got = append(got, kind+":"+tg.Selector.Raw+opt)
	}
	want := "text:h1,text:iframe#f p.x?,markup:ul.a,markup:ul.b?,markup:y"
	if strings.Join(got, ",") != want {
		t.Errorf("targets:\n got %s\nwant %s", strings.Join(got, ","), want)
	}
	if tpl.Targets[1].Selector.Frame != "iframe#f" {
		t.Errorf("frame not parsed: %+v", tpl.Targets[1].Selector)
	}
}

func TestTemplate_Terminal(t *testing.T) {
	tpl, _ := ParseTemplate(`<html><body><p gg-stop>done</p></body></html>`)
	if !tpl.Terminal() {
		t.Error("expected terminal")
	}
	tpl, _ = ParseTemplate(`<html><body><p>not yet</p></body></html>`)
	if tpl.Terminal() {
		t.Error("expected non-terminal")
	}
}

func TestInstantiate_Independent(t *testing.T) {
	p, _ := Parse("x.html", `<html><body><h1 gg-match="h1">old</h1></body></html>`)
	a, _ := p.Instantiate()
	a.Targets[0].Node.FirstChild.Data = "changed"
	b, _ := p.Instantiate()
	out, err := b.Render()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "changed") {
		t.Error("instances share state")
	}
}

func TestLoad_SortedAndFresh(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.html", `<html gg-priority="2"></html>`)
	write("a.html", `<html gg-priority="1"></html>`)
	write("notes.txt", `ignored`)

	ps, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 || ps[0].Name != "a.html" || ps[1].Name != "b.html" {
		t.Fatalf("unexpected library: %+v", ps)
	}
	if ps[0].Path != filepath.Join(dir, "a.html") {
		t.Errorf("path: got %q", ps[0].Path)
	}

	write("c.html", `<html></html>`)
	ps, _ = Load(dir, nil)
	if len(ps) != 3 {
		t.Errorf("expected reload to see new file, got %d", len(ps))
	}

	names, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "a.html,b.html,c.html" {
		t.Errorf("list: got %v", names)
	}
}

func TestLoad_MissingDir(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestRender_VoidWithChildrenFails(t *testing.T) {
	tpl, err := ParseTemplate(`<html><body><input name="x"></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	input := FindElement(tpl.Doc, "input")
	if !Void(input) {
		t.Fatal("input should be void")
	}
	input.AppendChild(&html.Node{Type: html.TextNode, Data: "oops"})
	if _, err := tpl.Render(); err == nil {
		t.Error("expected render error for a void element with children")
	}
	if Void(FindElement(tpl.Doc, "body")) {
		t.Error("body is not void")
	}
}
