// Package pattern loads the template library. A pattern is an HTML document
// whose annotations describe where content of interest lives on a class of
// page and how to recognise that page:
//
//	<html gg-domain="example.com" gg-priority="10">
//	  <h1 gg-match="main h1"></h1>
//	  <div gg-match-html="iframe#feed ul.items" gg-optional></div>
//	  <p gg-stop>done</p>
//	</html>
//
// Annotations are read once at parse time into typed fields; nothing probes
// the tree for attributes afterwards.
package pattern

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/middleman/selector"
)

// Template annotations.
const (
	AttrDomain    = "gg-domain"
	AttrPriority  = "gg-priority"
	AttrMatch     = "gg-match"
	AttrMatchHTML = "gg-match-html"
	AttrOptional  = "gg-optional"
	AttrStop      = "gg-stop"
	AttrAutoclick = "gg-autoclick"
)

// DefaultPriority applies when gg-priority is absent or not an integer.
const DefaultPriority = -1

// Pattern is one template of the library. It is immutable; every
// evaluation works on a fresh Template from Instantiate.
type Pattern struct {
	Name     string
	Path     string
	Domain   string
	Priority int
	source   string
}

// Parse builds a Pattern from template markup.
func Parse(name, markup string) (*Pattern, error) {
	t, err := ParseTemplate(markup)
	if err != nil {
		return nil, fmt.Errorf("pattern: %s: %w", name, err)
	}
	return &Pattern{
		Name:     name,
		Domain:   t.Domain,
		Priority: t.Priority,
		source:   markup,
	}, nil
}

// Instantiate parses a fresh, mutable copy of the template.
func (p *Pattern) Instantiate() (*Template, error) {
	return ParseTemplate(p.source)
}

// Template is a parsed template document with its annotations resolved.
type Template struct {
	Doc      *html.Node
	Domain   string
	Priority int
	Targets  []*Target
}

// Target is an element whose content is filled from the live page.
type Target struct {
	Node     *html.Node
	Selector selector.Selector
	// Markup targets receive the live element's inner markup; text targets
	// receive its trimmed text.
	Markup   bool
	Optional bool
}

// ParseTemplate parses markup and collects its annotations. Text targets
// come first, then markup targets, each in document order. An element that
// carries gg-match-html is a markup target only.
func ParseTemplate(markup string) (*Template, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	t := &Template{Doc: doc, Priority: DefaultPriority}

	if root := FindElement(doc, "html"); root != nil {
		t.Domain = strings.TrimSpace(Attr(root, AttrDomain))
		if raw, ok := lookup(root, AttrPriority); ok {
			t.Priority = parsePriority(raw)
		}
	}

	var text, markupTargets []*Target
	walk(doc, func(n *html.Node) {
		if raw, ok := lookup(n, AttrMatchHTML); ok {
			markupTargets = append(markupTargets, &Target{
				Node:     n,
				Selector: selector.Parse(raw),
				Markup:   true,
				Optional: Has(n, AttrOptional),
			})
			return
		}
		if raw, ok := lookup(n, AttrMatch); ok {
			text = append(text, &Target{
				Node:     n,
				Selector: selector.Parse(raw),
				Optional: Has(n, AttrOptional),
			})
		}
	})
	t.Targets = append(text, markupTargets...)
	return t, nil
}

// parsePriority strips leading '=' and whitespace before parsing.
func parsePriority(raw string) int {
	n, err := strconv.Atoi(strings.TrimLeft(raw, "= "))
	if err != nil {
		return DefaultPriority
	}
	return n
}

// Terminal reports whether the document carries a termination marker.
func (t *Template) Terminal() bool {
	found := false
	walk(t.Doc, func(n *html.Node) {
		if Has(n, AttrStop) {
			found = true
		}
	})
	return found
}

// Render serialises the whole document.
func (t *Template) Render() (string, error) {
	return Render(t.Doc)
}

// Render serialises n and its descendants.
func Render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("pattern: render: %w", err)
	}
	return buf.String(), nil
}

// Void reports whether n is an element that cannot have children.
func Void(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	a := n.DataAtom
	if a == 0 {
		a = atom.Lookup([]byte(n.Data))
	}
	switch a {
	case atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr, atom.Img,
		atom.Input, atom.Link, atom.Meta, atom.Source, atom.Track, atom.Wbr:
		return true
	}
	return false
}

// FindElement returns the first element named tag in document order.
func FindElement(n *html.Node, tag string) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) {
		if found == nil && c.Data == tag {
			found = c
		}
	})
	return found
}

// Attr returns the value of key on n, or "".
func Attr(n *html.Node, key string) string {
	v, _ := lookup(n, key)
	return v
}

// Has reports whether n carries key, whatever its value.
func Has(n *html.Node, key string) bool {
	_, ok := lookup(n, key)
	return ok
}

// SetAttr sets key on n, adding it when missing.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func lookup(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// walk visits every element under n in document order.
func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
