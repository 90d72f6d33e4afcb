// Package render turns distilled documents into what callers see: an HTML
// page wrapping a form, or Markdown for terminals and MCP clients.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultTitle heads pages without a title of their own.
const DefaultTitle = "MIDDLEMAN"

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html data-theme=light>
  <head>
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
    <style>
      .vertical-radios { display: flex; flex-direction: column; gap: 1rem; margin-bottom: 1.5rem; }
      .radio-wrapper { display: flex; align-items: center; gap: 0.5rem; }
      .radio-wrapper input[type='radio'] { margin: 0; flex-shrink: 0; }
      .radio-wrapper label { margin: 0; cursor: pointer; line-height: 1.5; }
      .radio-wrapper:hover label { color: var(--pico-primary); }
    </style>
  </head>
  <body>
    <main class="container">
      <section>
        <h2>{{.Title}}</h2>
        <article>
        <form method="POST" action="{{.Action}}">
        {{.Content}}
        </form>
        </article>
      </section>
    </main>
  </body>
</html>`))

var redirectTmpl = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<body>
  <form id="redirect" action="{{.}}" method="post"></form>
  <script>document.getElementById('redirect').submit();</script>
</body>
</html>`))

// Renderer holds the sanitizer and the Markdown converter.
type Renderer struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{
		policy: formPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// formPolicy is the UGC policy extended with the form controls templates
// use. Template annotations (gg-*) and scripts are removed.
func formPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("form", "input", "button", "label", "select", "option", "textarea", "fieldset", "legend")
	p.AllowAttrs("type", "name", "value", "placeholder", "checked", "selected", "disabled", "autocomplete").
		OnElements("input", "button", "select", "option", "textarea")
	p.AllowAttrs("for").OnElements("label")
	p.AllowAttrs("id", "class").Globally()
	return p
}

// Sanitize strips scripts, event handlers and template annotations from
// distilled markup.
func (r *Renderer) Sanitize(markup string) string {
	return r.policy.Sanitize(markup)
}

// Page wraps sanitized content in the form page posting to action.
func (r *Renderer) Page(title, action, content string) (string, error) {
	if title == "" {
		title = DefaultTitle
	}
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, struct {
		Title, Action string
		Content       template.HTML
	}{title, action, template.HTML(r.Sanitize(content))})
	if err != nil {
		return "", fmt.Errorf("render: page: %w", err)
	}
	return buf.String(), nil
}

// Redirect returns a page that immediately POSTs to action. Browsers cannot
// turn a GET into a POST through a redirect status.
func (r *Renderer) Redirect(action string) (string, error) {
	var buf bytes.Buffer
	if err := redirectTmpl.Execute(&buf, action); err != nil {
		return "", fmt.Errorf("render: redirect: %w", err)
	}
	return buf.String(), nil
}

// Markdown converts a distilled document to Markdown.
func (r *Renderer) Markdown(markup string) (string, error) {
	md, err := r.md.ConvertString(markup)
	if err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return md, nil
}
