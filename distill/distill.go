// Package distill reconciles the pattern library against a live page. Every
// pattern whose targets can be filled from the page is a candidate; the
// candidate with the smallest priority becomes the Match of this tick.
package distill

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/middleman/pattern"
	"github.com/hazyhaar/middleman/selector"
)

// Match is the best-fitting pattern merged with live content. Distilled is
// self-contained markup: it holds no reference to the live page.
type Match struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Distilled string `json:"distilled"`
}

// Matcher evaluates patterns against a page.
type Matcher struct {
	resolver *selector.Resolver
	logger   *slog.Logger
}

// New creates a Matcher that looks selectors up through resolver.
func New(resolver *selector.Resolver, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{resolver: resolver, logger: logger}
}

// Resolver returns the resolver used for live lookups.
func (m *Matcher) Resolver() *selector.Resolver { return m.resolver }

// Distill evaluates patterns in library order against page and returns the
// best full match, or nil when none matched. The error is non-nil only
// when ctx ends.
func (m *Matcher) Distill(ctx context.Context, hostname string, page selector.Page, patterns []*pattern.Pattern) (*Match, error) {
	var matches []*Match
	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !domainAllows(p.Domain, hostname) {
			m.logger.Debug("distill: skipping pattern, domain mismatch",
				"pattern", p.Name, "domain", p.Domain, "hostname", hostname)
			continue
		}
		if match := m.evaluate(ctx, page, p); match != nil {
			matches = append(matches, match)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		m.logger.Debug("distill: no match", "hostname", hostname)
		return nil, nil
	}

	// Ties keep library order.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority < matches[j].Priority
	})
	for _, c := range matches {
		m.logger.Debug("distill: candidate", "pattern", c.Name, "priority", c.Priority)
	}
	best := matches[0]
	m.logger.Info("distill: best match", "pattern", best.Name, "priority", best.Priority, "candidates", len(matches))
	return best, nil
}

// evaluate fills one template from the page. Every target is evaluated even
// after a required one fails so debug output covers the whole template.
func (m *Matcher) evaluate(ctx context.Context, page selector.Page, p *pattern.Pattern) *Match {
	tpl, err := p.Instantiate()
	if err != nil {
		m.logger.Warn("distill: instantiate failed", "pattern", p.Name, "error", err)
		return nil
	}
	m.logger.Debug("distill: checking pattern", "pattern", p.Name, "priority", tpl.Priority)

	complete := true
	matched := 0
	for _, target := range tpl.Targets {
		if target.Selector.Empty() {
			continue
		}
		el, ok := m.resolver.ResolveSelector(ctx, page, target.Selector)
		if !ok {
			if target.Optional {
				m.logger.Debug("distill: optional target missing", "pattern", p.Name, "selector", target.Selector.Raw)
				continue
			}
			m.logger.Debug("distill: required target missing", "pattern", p.Name, "selector", target.Selector.Raw)
			complete = false
			continue
		}
		if target.Markup {
			fillMarkup(ctx, target, el, m.logger)
		} else {
			fillText(ctx, target, el)
		}
		matched++
	}

	if !complete || matched == 0 {
		return nil
	}
	distilled, err := tpl.Render()
	if err != nil {
		m.logger.Warn("distill: render failed", "pattern", p.Name, "error", err)
		return nil
	}
	return &Match{Name: p.Name, Priority: tpl.Priority, Distilled: distilled}
}

func fillMarkup(ctx context.Context, target *pattern.Target, el *selector.Element, logger *slog.Logger) {
	clearChildren(target.Node)
	markup, err := el.ReadMarkup(ctx)
	if err != nil {
		logger.Debug("distill: read markup failed", "selector", target.Selector.Raw, "error", err)
		return
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), target.Node)
	if err != nil {
		logger.Debug("distill: parse markup failed", "selector", target.Selector.Raw, "error", err)
		return
	}
	for _, n := range nodes {
		target.Node.AppendChild(n)
	}
}

// fillText copies the live text into the template node. Void elements only
// take the value attribute: a live input reports its value or placeholder as
// text.
func fillText(ctx context.Context, target *pattern.Target, el *selector.Element) {
	if !pattern.Void(target.Node) {
		if text, err := el.ReadText(ctx); err == nil && text != "" {
			clearChildren(target.Node)
			target.Node.AppendChild(&html.Node{Type: html.TextNode, Data: strings.TrimSpace(text)})
		}
	}
	switch el.Tag(ctx) {
	case "input", "textarea", "select":
		v, _ := el.Value(ctx)
		pattern.SetAttr(target.Node, "value", v)
	}
}

func clearChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// domainAllows applies the domain gate: a pattern bound to a domain only
// matches hostnames containing it, except on local addresses.
func domainAllows(domain, hostname string) bool {
	if domain == "" || hostname == "" {
		return true
	}
	if IsLocal(hostname) {
		return true
	}
	return strings.Contains(strings.ToLower(hostname), strings.ToLower(domain))
}

// IsLocal reports whether hostname is a loopback address.
func IsLocal(hostname string) bool {
	return strings.Contains(hostname, "localhost") || strings.Contains(hostname, "127.0.0.1")
}
