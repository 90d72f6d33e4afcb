package automate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/middleman/pattern"
	"github.com/hazyhaar/middleman/secrets"
	"github.com/hazyhaar/middleman/selector"
	"github.com/hazyhaar/middleman/session"
)

// Filler supplies values to unattended runs: the secret store first, then
// the operator.
type Filler struct {
	Secrets  *secrets.Store
	Prompter secrets.Prompter
}

// Run drives s to a terminal state without a caller supplying fields. The
// session is always finalized.
func (m *Machine) Run(ctx context.Context, s *session.Session, filler Filler) (*Outcome, error) {
	started := time.Now()
	defer m.sessions.Finalize(ctx, s.ID)

	out, n, err := m.run(ctx, s, filler)
	m.record(ctx, s, "run", started, n, out, err)
	return out, err
}

func (m *Machine) run(ctx context.Context, s *session.Session, filler Filler) (*Outcome, int, error) {
	s.Lock()
	defer s.Unlock()

	patterns, err := pattern.Load(m.cfg.Patterns, m.logger)
	if err != nil {
		return nil, 0, err
	}
	log := m.logger.With("session", s.ID, "hostname", s.Hostname)
	page := s.Page()
	limit := m.cfg.Iterations()
	previous := ""

	for i := range limit {
		if err := selector.Sleep(ctx, m.cfg.Tick); err != nil {
			return nil, i, err
		}
		log.Debug("automate: iteration", "n", i+1, "of", limit)

		match, err := m.matcher.Distill(ctx, s.Hostname, page, patterns)
		if err != nil {
			return nil, i + 1, err
		}
		if m.cfg.Pause != nil {
			m.cfg.Pause(ctx)
		}
		if match == nil {
			log.Info("automate: no matched pattern")
			continue
		}
		if match.Distilled == previous {
			log.Debug("automate: still the same", "pattern", match.Name)
			continue
		}
		previous = match.Distilled

		doc, err := parse(match.Distilled)
		if err != nil {
			return nil, i + 1, err
		}
		if terminal(doc) {
			return m.finish(match, doc), i + 1, nil
		}

		if err := m.autofill(ctx, page, doc, filler); err != nil {
			return nil, i + 1, err
		}
		m.autoclick(ctx, page, doc, autoclickSelector)
		m.autoclick(ctx, page, doc, submitSelector)
	}

	log.Warn("automate: timeout reached", "iterations", limit)
	return nil, limit, ErrTimeout
}

// autofill fills the typed inputs of doc on the live page. Text-like inputs
// take their value from the secret store or the operator, radio groups are
// chosen by the operator, and checkboxes checked in the template are
// clicked. The only error is a failed prompt.
func (m *Machine) autofill(ctx context.Context, page selector.Page, doc *goquery.Document, filler Filler) error {
	resolver := m.matcher.Resolver()
	domain := ""
	if root := doc.Find("html").First(); root.Length() > 0 {
		domain, _ = root.Attr(pattern.AttrDomain)
		domain = strings.TrimSpace(domain)
	}
	groups := map[string]bool{}

	for _, n := range doc.Find("input[type]").Nodes {
		typ := pattern.Attr(n, "type")
		name := pattern.Attr(n, "name")
		raw := strings.TrimSpace(pattern.Attr(n, pattern.AttrMatch))
		if name == "" {
			m.logger.Warn("automate: input without a name", "type", typ)
		}
		if raw == "" {
			m.logger.Warn("automate: input without a selector", "type", typ)
			continue
		}

		switch typ {
		case "email", "tel", "text", "password":
			field := name
			if field == "" {
				field = typ
			}
			value, err := m.secretOrPrompt(ctx, filler, domain, field, typ, pattern.Attr(n, "placeholder"))
			if err != nil {
				return err
			}
			if el, ok := resolver.Resolve(ctx, page, raw); ok {
				if err := el.Type(ctx, value); err != nil {
					m.logger.Warn("automate: type failed", "field", field, "error", err)
				}
			}
			pattern.SetAttr(n, "value", value)

		case "radio":
			if name == "" || groups[name] {
				continue
			}
			groups[name] = true
			if err := m.chooseRadio(ctx, page, doc, name, filler.Prompter); err != nil {
				return err
			}

		case "checkbox":
			if !pattern.Has(n, "checked") {
				continue
			}
			m.logger.Info("automate: checking checkbox", "name", name)
			if el, ok := resolver.Resolve(ctx, page, raw); ok {
				el.Click(ctx)
			}
		}
	}
	return nil
}

func (m *Machine) secretOrPrompt(ctx context.Context, filler Filler, domain, field, typ, placeholder string) (string, error) {
	if filler.Secrets != nil {
		if key, value, ok := filler.Secrets.Lookup(domain, field); ok {
			m.logger.Info("automate: using secret", "key", key, "field", field)
			return value, nil
		}
	}
	if filler.Prompter == nil {
		return "", fmt.Errorf("automate: no value for %s and no prompter", field)
	}
	message := placeholder
	if message == "" {
		message = "Please enter " + field
	}
	value, err := filler.Prompter.Ask(ctx, message, typ == "password")
	if err != nil {
		return "", fmt.Errorf("automate: prompt %s: %w", field, err)
	}
	return value, nil
}

func (m *Machine) chooseRadio(ctx context.Context, page selector.Page, doc *goquery.Document, name string, prompter secrets.Prompter) error {
	type choice struct{ id, label, raw string }
	var choices []choice
	doc.Find(`input[type="radio"]`).Each(func(_ int, s *goquery.Selection) {
		if v, _ := s.Attr("name"); v != name {
			return
		}
		id, _ := s.Attr("id")
		raw, _ := s.Attr(pattern.AttrMatch)
		label := id
		if id != "" {
			lbl := doc.Find("label").FilterFunction(func(_ int, l *goquery.Selection) bool {
				f, _ := l.Attr("for")
				return f == id
			})
			if t := strings.TrimSpace(lbl.First().Text()); t != "" {
				label = t
			}
		}
		choices = append(choices, choice{id: id, label: label, raw: strings.TrimSpace(raw)})
	})
	if len(choices) == 0 {
		return nil
	}
	if prompter == nil {
		return fmt.Errorf("automate: radio group %s needs a prompter", name)
	}

	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = c.label
	}
	idx, err := prompter.Choose(ctx, "Your choice", labels)
	if err != nil {
		return fmt.Errorf("automate: choose %s: %w", name, err)
	}
	picked := choices[idx]
	m.logger.Info("automate: choosing", "group", name, "label", picked.label)
	if el, ok := m.matcher.Resolver().Resolve(ctx, page, picked.raw); ok {
		el.Click(ctx)
	}
	return nil
}
