package automate

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/middleman/pattern"
	"github.com/hazyhaar/middleman/selector"
	"github.com/hazyhaar/middleman/session"
)

// Continue advances the session with id using fields supplied by the caller
// (an HTTP form submission). It returns a terminal outcome, or a form when
// the current state needs input the caller has not supplied yet.
func (m *Machine) Continue(ctx context.Context, id string, fields map[string]string) (*Outcome, error) {
	s, err := m.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	out, n, err := m.continueFlow(ctx, s, fields)
	m.record(ctx, s, "interactive", started, n, out, err)
	return out, err
}

func (m *Machine) continueFlow(ctx context.Context, s *session.Session, fields map[string]string) (*Outcome, int, error) {
	s.Lock()
	defer s.Unlock()
	// A concurrent call may have finalized the session while this one waited.
	if _, err := m.sessions.Get(s.ID); err != nil {
		return nil, 0, err
	}

	patterns, err := pattern.Load(m.cfg.Patterns, m.logger)
	if err != nil {
		return nil, 0, err
	}
	log := m.logger.With("session", s.ID, "hostname", s.Hostname)
	log.Info("automate: continuing", "fields", len(fields))

	pending := maps.Clone(fields)
	if pending == nil {
		pending = map[string]string{}
	}
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
			m.sessions.Finalize(ctx, s.ID)
			return m.finish(match, doc), i + 1, nil
		}

		if value := pending["button"]; value != "" {
			if raw, ok := buttonSelector(doc, value); ok {
				delete(pending, "button")
				if el, found := m.matcher.Resolver().Resolve(ctx, page, raw); found {
					log.Info("automate: clicking button", "selector", raw, "value", value)
					el.Click(ctx)
				}
				continue
			}
		}

		handled, total, changed := m.reconcile(ctx, page, doc, pending)
		filled, err := render(doc)
		if err != nil {
			return nil, i + 1, err
		}
		if changed {
			previous = filled
		}

		m.autoclick(ctx, page, doc, autoclickSelector)

		if doc.Find(submitSelector).Length() > 0 {
			if handled > 0 && handled == total {
				log.Info("automate: submitting form, all fields are filled")
				m.autoclick(ctx, page, doc, submitSelector)
				continue
			}
			log.Info("automate: not all form fields are filled", "handled", handled, "inputs", total)
			return &Outcome{
				Kind:      OutcomeForm,
				Pattern:   match.Name,
				Title:     title(doc),
				Body:      body(doc),
				Distilled: filled,
			}, i + 1, nil
		}
	}

	log.Warn("automate: timeout reached", "iterations", limit)
	return nil, limit, ErrTimeout
}

// reconcile applies the caller's fields to the live counterparts of the
// inputs in doc. It returns how many inputs were handled, how many inputs
// doc has, and whether doc was modified.
func (m *Machine) reconcile(ctx context.Context, page selector.Page, doc *goquery.Document, pending map[string]string) (handled, total int, changed bool) {
	resolver := m.matcher.Resolver()
	groups := map[string]bool{}

	inputs := doc.Find("input")
	total = inputs.Length()
	for _, n := range inputs.Nodes {
		raw := strings.TrimSpace(pattern.Attr(n, pattern.AttrMatch))
		if raw == "" {
			continue
		}
		el, ok := resolver.Resolve(ctx, page, raw)
		if !ok {
			m.logger.Debug("automate: input not on page", "selector", raw)
			continue
		}
		name := pattern.Attr(n, "name")

		switch pattern.Attr(n, "type") {
		case "checkbox":
			if name == "" {
				m.logger.Warn("automate: checkbox without name", "selector", raw)
				continue
			}
			if pending[name] == "" {
				continue
			}
			m.logger.Info("automate: checking checkbox", "name", name)
			el.Click(ctx)
			handled++

		case "radio":
			if name == "" {
				continue
			}
			if groups[name] {
				handled++
				continue
			}
			value := pending[name]
			if value == "" {
				m.logger.Info("automate: no form data for radio group", "name", name)
				continue
			}
			option := doc.Find(`input[type="radio"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
				id, _ := s.Attr("id")
				return id == value
			})
			if option.Length() == 0 {
				m.logger.Info("automate: no radio button with id", "name", name, "id", value)
				continue
			}
			if optRaw, _ := option.Attr(pattern.AttrMatch); optRaw != "" {
				if opt, found := resolver.Resolve(ctx, page, optRaw); found {
					opt.Click(ctx)
				}
			}
			option.SetAttr("checked", "checked")
			m.logger.Info("automate: radio group handled", "name", name, "value", value)
			groups[name] = true
			changed = true
			handled++

		default:
			if name == "" {
				continue
			}
			value := pending[name]
			if value == "" {
				m.logger.Info("automate: no form data", "name", name)
				continue
			}
			m.logger.Info("automate: using form data", "name", name)
			pattern.SetAttr(n, "value", value)
			changed = true
			if err := el.Type(ctx, value); err != nil {
				m.logger.Warn("automate: type failed", "name", name, "error", err)
			}
			delete(pending, name)
			handled++
		}
	}
	return handled, total, changed
}

// buttonSelector returns the match selector of the template button whose
// value attribute equals value.
func buttonSelector(doc *goquery.Document, value string) (string, bool) {
	btn := doc.Find("button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr("value")
		return ok && v == value
	}).First()
	if btn.Length() == 0 {
		return "", false
	}
	raw, _ := btn.Attr(pattern.AttrMatch)
	return strings.TrimSpace(raw), true
}
