package render

import (
	"strings"
	"testing"
)

func TestSanitize_KeepsFormControls(t *testing.T) {
	r := New()
	got := r.Sanitize(`<body gg-stop><label for="u">User</label>
<input type="text" name="user" value="alice" gg-match="#user" onfocus="steal()">
<input type="radio" id="r1" name="via" checked="checked">
<button type="submit">Go</button><script>alert(1)</script></body>`)

	for _, want := range []string{`<label for="u">User</label>`, `name="user"`, `value="alice"`, `checked="checked"`, `<button type="submit">Go</button>`} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %s", want, got)
		}
	}
	for _, gone := range []string{"gg-match", "onfocus", "<script", "alert", "<body"} {
		if strings.Contains(got, gone) {
			t.Errorf("%q survived sanitizing: %s", gone, got)
		}
	}
}

func TestPage(t *testing.T) {
	page, err := New().Page("Sign <in>", "/link/abc234", `<input name="user">`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page, `<title>Sign &lt;in&gt;</title>`) {
		t.Error("title not escaped")
	}
	if !strings.Contains(page, `action="/link/abc234"`) || !strings.Contains(page, `<input name="user">`) {
		t.Errorf("unexpected page:\n%s", page)
	}
}

func TestPage_DefaultTitle(t *testing.T) {
	page, _ := New().Page("", "", "")
	if !strings.Contains(page, "<title>MIDDLEMAN</title>") {
		t.Error("default title missing")
	}
}

func TestRedirect(t *testing.T) {
	page, err := New().Redirect("/link/abc234")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page, `action="/link/abc234" method="post"`) || !strings.Contains(page, ".submit()") {
		t.Errorf("unexpected redirect page:\n%s", page)
	}
}

func TestHome(t *testing.T) {
	page, err := New().Home()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page, `href="/start?location=text.npr.org"`) || !strings.Contains(page, "Goodreads Bookshelf") {
		t.Errorf("home page misses examples:\n%s", page)
	}
}

func TestMarkdown(t *testing.T) {
	md, err := New().Markdown(`<html><body><h1>Books</h1><ul><li>Dune</li><li>Emma</li></ul></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "# Books") || !strings.Contains(md, "- Dune") {
		t.Errorf("markdown: %q", md)
	}
}
