package convert

import (
	"reflect"
	"testing"
)

const listDoc = `<html gg-domain="example.com"><body gg-stop>
<ul class="items">
  <li>
    <a href=" /b/1 "> First <b>book</b> </a>
    <span class="tag">x</span><span class="tag"> y </span><span class="tag">z</span>
  </li>
  <li class="empty"><p>nothing here</p></li>
</ul>
<script type="application/json">
{"rows": "ul.items > li",
 "columns": [
   {"name": "title", "selector": "a"},
   {"name": "link", "selector": "a", "attribute": "href"},
   {"name": "tags", "selector": ".tag", "kind": "list"}
 ]}
</script>
</body></html>`

func TestConvert_ListAndScalar(t *testing.T) {
	records, err := Convert(listDoc)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2 (%v)", len(records), records)
	}
	rec := records[0]
	if rec["title"] != "Firstbook" {
		t.Errorf("title: got %q", rec["title"])
	}
	if rec["link"] != "/b/1" {
		t.Errorf("link: got %q", rec["link"])
	}
	if !reflect.DeepEqual(rec["tags"], []string{"x", "y", "z"}) {
		t.Errorf("tags: got %#v", rec["tags"])
	}

	// The second row has no title or link, but a list column is always set.
	if _, ok := records[1]["title"]; ok {
		t.Error("second row should have no title")
	}
	if !reflect.DeepEqual(records[1]["tags"], []string{}) {
		t.Errorf("second row tags: got %#v", records[1]["tags"])
	}
}

func TestConvert_TwoColumnsOneList(t *testing.T) {
	doc := `<html><body>
<div class="row"><h2>Team</h2><i>a</i><i>b</i><i>c</i></div>
<script type="application/json">{"rows": "div.row", "columns": [
 {"name": "name", "selector": "h2"},
 {"name": "members", "selector": "i", "kind": "list"}]}</script>
</body></html>`
	records, err := Convert(doc)
	if err != nil {
		t.Fatal(err)
	}
	want := []Record{{"name": "Team", "members": []string{"a", "b", "c"}}}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("got %#v, want %#v", records, want)
	}
}

func TestConvert_DropsEmptyRows(t *testing.T) {
	doc := `<html><body>
<p class="r"><b>1</b></p><p class="r"></p>
<script type="application/json">{"rows": "p.r", "columns": [{"name": "n", "selector": "b"}, {"selector": "b"}]}</script>
</body></html>`
	records, err := Convert(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["n"] != "1" {
		t.Errorf("got %v", records)
	}
}

func TestConvert_NoSchema(t *testing.T) {
	records, err := Convert(`<html><body><p gg-stop>done</p></body></html>`)
	if err != nil || records != nil {
		t.Errorf("expected nothing, got %v, %v", records, err)
	}
}

func TestConvert_Failures(t *testing.T) {
	cases := map[string]string{
		"bad json":     `<script type="application/json">{"rows": </script>`,
		"bad selector": `<script type="application/json">{"rows": "li[[", "columns": []}</script>`,
		"no rows":      `<script type="application/json">{"columns": []}</script>`,
		"bad column":   `<ol><li><b>Dune</b></li></ol><script type="application/json">{"rows": "ol > li", "columns": [{"name": "title", "selector": "b"}, {"name": "tags", "selector": "i[", "kind": "list"}]}</script>`,
	}
	for name, doc := range cases {
		if _, err := Convert("<html><body>" + doc + "</body></html>"); err == nil {
			t.Errorf("%s: expected error", name)
		}
		if got := Safe("<html><body>"+doc+"</body></html>", nil); got != nil {
			t.Errorf("%s: Safe should yield nil, got %v", name, got)
		}
	}
}
