// Package selector resolves template selectors against a live page and wraps
// the result in an Element proxy that reads, clicks and types.
//
// Three selector forms are understood:
//
//	span.title                 plain CSS, searched across the page and its frames
//	iframe#login input[name=u] frame-qualified: CSS scoped to one frame
//	//div[@id='main']//a       path-based (XPath), top document
//
// A lookup that errors or times out is a miss, never an error. Callers
// decide whether absence matters.
package selector

import (
	"regexp"
	"strings"
)

// framePattern splits a leading iframe token from the real target selector.
var framePattern = regexp.MustCompile(`^(iframe(?:[^\s]*\[[^\]]+\]|[^\s]+))\s+(.+)$`)

// Selector is a parsed template selector.
type Selector struct {
	// Raw is the selector exactly as written in the template.
	Raw string
	// Frame is the CSS selector of the frame element, empty when the
	// selector is not frame-qualified.
	Frame string
	// Query is the selector evaluated inside the page or frame.
	Query string
}

// Parse splits raw into its frame and query parts.
func Parse(raw string) Selector {
	raw = strings.TrimSpace(raw)
	m := framePattern.FindStringSubmatch(raw)
	if m == nil {
		return Selector{Raw: raw, Query: raw}
	}
	return Selector{Raw: raw, Frame: m[1], Query: strings.TrimSpace(m[2])}
}

// XPath reports whether the query is path-based.
func (s Selector) XPath() bool {
	return strings.HasPrefix(s.Query, "//")
}

// Empty reports whether there is nothing to look up.
func (s Selector) Empty() bool {
	return s.Query == ""
}

func (s Selector) String() string {
	return s.Raw
}
