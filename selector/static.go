package selector

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// StaticPage is a Page over a parsed HTML document. Frames are the
// documents carried in the srcdoc attribute of iframe elements. Clicks and
// typing mutate the document the way a browser would for form controls,
// and every click is recorded.
//
// It backs offline distillation of saved pages and the package tests.
type StaticPage struct {
	state  *staticState
	root   *html.Node
	frames map[*html.Node]*StaticPage
}

type staticState struct {
	mu      sync.Mutex
	clicks  []string
	onClick func(label string)
}

// NewStaticPage parses markup into a page.
func NewStaticPage(markup string) (*StaticPage, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("selector: parse static page: %w", err)
	}
	return &StaticPage{
		state:  &staticState{},
		root:   root,
		frames: make(map[*html.Node]*StaticPage),
	}, nil
}

// LoadStaticPage reads and parses an HTML file.
func LoadStaticPage(path string) (*StaticPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("selector: read static page: %w", err)
	}
	return NewStaticPage(string(data))
}

// SetHTML replaces the document, as a navigation would.
func (p *StaticPage) SetHTML(markup string) error {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("selector: parse static page: %w", err)
	}
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	p.root = root
	p.frames = make(map[*html.Node]*StaticPage)
	return nil
}

// OnClick registers fn to run after every click with the label of the
// clicked element (see Clicks).
func (p *StaticPage) OnClick(fn func(label string)) {
	p.state.mu.Lock()
	p.state.onClick = fn
	p.state.mu.Unlock()
}

// Clicks returns the labels of clicked elements in order. A label is
// "#id" when the element has an id, "tag[name=...]" when it has a name,
// and the tag otherwise.
func (p *StaticPage) Clicks() []string {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return append([]string(nil), p.state.clicks...)
}

// HTML renders the current document.
func (p *StaticPage) HTML() string {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	var buf bytes.Buffer
	html.Render(&buf, p.root)
	return buf.String()
}

func (p *StaticPage) Query(ctx context.Context, css string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	sel := goquery.NewDocumentFromNode(p.root).Find(css)
	return p.wrap(sel.Nodes), nil
}

func (p *StaticPage) QueryXPath(ctx context.Context, xpath string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	nodes, err := htmlquery.QueryAll(p.root, xpath)
	if err != nil {
		return nil, fmt.Errorf("selector: xpath %s: %w", xpath, err)
	}
	return p.wrap(nodes), nil
}

func (p *StaticPage) Frames(ctx context.Context) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	var frames []Page
	for _, n := range goquery.NewDocumentFromNode(p.root).Find("iframe").Nodes {
		if f := p.frameLocked(n); f != nil {
			frames = append(frames, f)
		}
	}
	return frames, nil
}

func (p *StaticPage) Frame(ctx context.Context, css string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	for _, n := range goquery.NewDocumentFromNode(p.root).Find(css).Nodes {
		if n.Data != "iframe" {
			continue
		}
		if f := p.frameLocked(n); f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoFrame, css)
}

func (p *StaticPage) EvalBool(context.Context, string, string) (bool, error) {
	return false, ErrScriptUnsupported
}

// frameLocked returns the page of an iframe element, parsing its srcdoc on
// first use.
func (p *StaticPage) frameLocked(n *html.Node) *StaticPage {
	if f, ok := p.frames[n]; ok {
		return f
	}
	src, ok := attr(n, "srcdoc")
	if !ok {
		return nil
	}
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}
	f := &StaticPage{state: p.state, root: root, frames: make(map[*html.Node]*StaticPage)}
	p.frames[n] = f
	return f
}

func (p *StaticPage) wrap(nodes []*html.Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, &staticNode{n: n, state: p.state})
	}
	return out
}

type staticNode struct {
	n     *html.Node
	state *staticState
}

func (s *staticNode) Tag(context.Context) (string, error) {
	return s.n.Data, nil
}

func (s *staticNode) Text(context.Context) (string, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return textContent(s.n), nil
}

func (s *staticNode) InnerHTML(context.Context) (string, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	var buf bytes.Buffer
	for c := s.n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func (s *staticNode) Value(context.Context) (string, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	switch s.n.Data {
	case "textarea":
		if v, ok := attr(s.n, "value"); ok {
			return v, nil
		}
		return textContent(s.n), nil
	case "select":
		sel := goquery.NewDocumentFromNode(s.n).Find("option[selected]")
		if sel.Length() == 0 {
			sel = goquery.NewDocumentFromNode(s.n).Find("option")
		}
		if v, ok := sel.First().Attr("value"); ok {
			return v, nil
		}
		return strings.TrimSpace(sel.First().Text()), nil
	}
	v, _ := attr(s.n, "value")
	return v, nil
}

func (s *staticNode) Click(context.Context) error {
	s.state.mu.Lock()
	if s.n.Data == "input" {
		typ, _ := attr(s.n, "type")
		switch typ {
		case "checkbox":
			if _, on := attr(s.n, "checked"); on {
				removeAttr(s.n, "checked")
			} else {
				setAttr(s.n, "checked", "checked")
			}
		case "radio":
			setAttr(s.n, "checked", "checked")
		}
	}
	label := describe(s.n)
	s.state.clicks = append(s.state.clicks, label)
	hook := s.state.onClick
	s.state.mu.Unlock()

	if hook != nil {
		hook(label)
	}
	return nil
}

func (s *staticNode) Clear(context.Context) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	setAttr(s.n, "value", "")
	return nil
}

func (s *staticNode) Input(_ context.Context, text string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	v, _ := attr(s.n, "value")
	setAttr(s.n, "value", v+text)
	return nil
}

func describe(n *html.Node) string {
	if id, ok := attr(n, "id"); ok && id != "" {
		return "#" + id
	}
	if name, ok := attr(n, "name"); ok && name != "" {
		return n.Data + "[name=" + name + "]"
	}
	return n.Data
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}
