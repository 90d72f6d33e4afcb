package browser

import (
	"github.com/hazyhaar/middleman/selector"
)

// StaticTab is a tab over a saved document. It lets offline distillation
// go through the same session and automation paths as a live tab.
type StaticTab struct {
	page   *selector.StaticPage
	closed bool
}

// NewStaticTab wraps page.
func NewStaticTab(page *selector.StaticPage) *StaticTab {
	return &StaticTab{page: page}
}

// OpenFile loads the HTML file at path into a StaticTab.
func OpenFile(path string) (*StaticTab, error) {
	page, err := selector.LoadStaticPage(path)
	if err != nil {
		return nil, err
	}
	return NewStaticTab(page), nil
}

func (t *StaticTab) Page() selector.Page { return t.page }

// Static returns the underlying document.
func (t *StaticTab) Static() *selector.StaticPage { return t.page }

// Closed reports whether Close was called.
func (t *StaticTab) Closed() bool { return t.closed }

func (t *StaticTab) Close() error {
	t.closed = true
	return nil
}
