// Package automate drives a session through a multi-step flow. Every tick
// the page is distilled; each new state is either terminal (converted and
// returned), a form to fill and submit, or a form handed back to the caller
// for more input.
package automate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/middleman/convert"
	"github.com/hazyhaar/middleman/distill"
	"github.com/hazyhaar/middleman/history"
	"github.com/hazyhaar/middleman/pattern"
	"github.com/hazyhaar/middleman/selector"
	"github.com/hazyhaar/middleman/session"
)

// ErrTimeout is returned when a flow does not reach a terminal state within
// the configured number of ticks.
var ErrTimeout = errors.New("automate: timeout reached")

// ErrNoMatch is returned by Once when no pattern matches the page.
var ErrNoMatch = errors.New("automate: no matching pattern")

// DefaultTitle is used when the distilled document has no <title>.
const DefaultTitle = "MIDDLEMAN"

const (
	autoclickSelector = "[gg-autoclick]:not(button)"
	submitSelector    = "button[gg-autoclick], button[type=submit]"
)

// Config bounds the loop.
type Config struct {
	// Tick is slept before each distillation. Default: 1s.
	Tick time.Duration
	// Timeout divided by Tick gives the number of iterations. Default: 15s.
	Timeout time.Duration
	// Patterns is the library directory, reloaded on every call.
	Patterns string
	// Pause, when set, runs after each distillation of an unattended run.
	Pause  func(ctx context.Context)
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Iterations returns the loop bound.
func (c Config) Iterations() int {
	n := int(c.Timeout / c.Tick)
	if n < 1 {
		n = 1
	}
	return n
}

// OutcomeKind tells what a flow ended with.
type OutcomeKind int

const (
	// OutcomeRecords: terminal state with converted records.
	OutcomeRecords OutcomeKind = iota
	// OutcomeDocument: terminal state without records; Body holds the page.
	OutcomeDocument
	// OutcomeForm: the form needs more input from the caller.
	OutcomeForm
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRecords:
		return "records"
	case OutcomeDocument:
		return "document"
	case OutcomeForm:
		return "form"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the result of one automation call.
type Outcome struct {
	Kind      OutcomeKind
	Pattern   string
	Title     string
	Body      string
	Distilled string
	Records   []convert.Record
	Terminal  bool
}

// Recorder receives one entry per automation call.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Option configures a Machine.
type Option func(*Machine)

// WithRecorder logs every run into r.
func WithRecorder(r Recorder) Option {
	return func(m *Machine) { m.recorder = r }
}

// Machine runs flows on the sessions of a registry.
type Machine struct {
	cfg      Config
	sessions *session.Manager
	matcher  *distill.Matcher
	recorder Recorder
	logger   *slog.Logger
}

// New creates a Machine.
func New(cfg Config, sessions *session.Manager, matcher *distill.Matcher, opts ...Option) *Machine {
	cfg.defaults()
	m := &Machine{cfg: cfg, sessions: sessions, matcher: matcher, logger: cfg.Logger}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Sessions returns the registry the machine works on.
func (m *Machine) Sessions() *session.Manager { return m.sessions }

// Once distills the session's page a single time. The session stays open.
func (m *Machine) Once(ctx context.Context, s *session.Session) (*Outcome, error) {
	started := time.Now()
	out, err := m.once(ctx, s)
	m.record(ctx, s, "distill", started, 1, out, err)
	return out, err
}

func (m *Machine) once(ctx context.Context, s *session.Session) (*Outcome, error) {
	s.Lock()
	defer s.Unlock()

	patterns, err := pattern.Load(m.cfg.Patterns, m.logger)
	if err != nil {
		return nil, err
	}
	match, err := m.matcher.Distill(ctx, s.Hostname, s.Page(), patterns)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrNoMatch
	}
	doc, err := parse(match.Distilled)
	if err != nil {
		return nil, err
	}
	if terminal(doc) {
		return m.finish(match, doc), nil
	}
	return &Outcome{
		Kind:      OutcomeDocument,
		Pattern:   match.Name,
		Title:     title(doc),
		Body:      body(doc),
		Distilled: match.Distilled,
	}, nil
}

// finish builds the outcome of a terminal state.
func (m *Machine) finish(match *distill.Match, doc *goquery.Document) *Outcome {
	out := &Outcome{
		Kind:      OutcomeDocument,
		Pattern:   match.Name,
		Title:     title(doc),
		Body:      body(doc),
		Distilled: match.Distilled,
		Terminal:  true,
	}
	if records := convert.Safe(match.Distilled, m.logger); len(records) > 0 {
		out.Kind = OutcomeRecords
		out.Records = records
	}
	m.logger.Info("automate: terminal state", "pattern", match.Name, "outcome", out.Kind, "records", len(out.Records))
	return out
}

// autoclick clicks the live counterpart of every element of doc matching css.
func (m *Machine) autoclick(ctx context.Context, page selector.Page, doc *goquery.Document, css string) {
	resolver := m.matcher.Resolver()
	for _, n := range doc.Find(css).Nodes {
		raw := strings.TrimSpace(pattern.Attr(n, pattern.AttrMatch))
		if raw == "" {
			continue
		}
		el, ok := resolver.Resolve(ctx, page, raw)
		if !ok {
			m.logger.Warn("automate: autoclick target not found", "selector", raw)
			continue
		}
		m.logger.Info("automate: clicking", "selector", raw)
		el.Click(ctx)
	}
}

func (m *Machine) record(ctx context.Context, s *session.Session, mode string, started time.Time, iterations int, out *Outcome, err error) {
	if m.recorder == nil {
		return
	}
	e := history.Entry{
		SessionID:  s.ID,
		Mode:       mode,
		Location:   s.Location,
		Hostname:   s.Hostname,
		Iterations: iterations,
		Started:    started,
		Duration:   time.Since(started),
	}
	switch {
	case out != nil:
		e.Outcome = out.Kind.String()
		e.Pattern = out.Pattern
		e.Records = len(out.Records)
	case errors.Is(err, ErrTimeout):
		e.Outcome = "timeout"
	default:
		e.Outcome = "error"
	}
	if err != nil {
		e.Error = err.Error()
	}
	if rerr := m.recorder.Record(context.WithoutCancel(ctx), e); rerr != nil {
		m.logger.Warn("automate: record run", "session", s.ID, "error", rerr)
	}
}

func parse(distilled string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(distilled))
	if err != nil {
		return nil, fmt.Errorf("automate: parse distilled: %w", err)
	}
	return doc, nil
}

func terminal(doc *goquery.Document) bool {
	return doc.Find("[" + pattern.AttrStop + "]").Length() > 0
}

func title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return DefaultTitle
}

func body(doc *goquery.Document) string {
	b, err := goquery.OuterHtml(doc.Find("body").First())
	if err != nil {
		return ""
	}
	return b
}

func render(doc *goquery.Document) (string, error) {
	return pattern.Render(doc.Nodes[0])
}
