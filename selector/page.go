package selector

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrScriptUnsupported is returned by pages that cannot evaluate scripts.
var ErrScriptUnsupported = errors.New("selector: script evaluation unsupported")

// ErrNoFrame is returned when a frame selector matches no frame.
var ErrNoFrame = errors.New("selector: frame not found")

// Page is the document surface a selector is resolved against. A frame is
// itself a Page.
type Page interface {
	// Query returns the elements matching a CSS selector in this document only.
	Query(ctx context.Context, css string) ([]Node, error)
	// QueryXPath returns the elements matching a path expression.
	QueryXPath(ctx context.Context, xpath string) ([]Node, error)
	// Frames returns the documents of the direct child frames that can be
	// entered. Frames that cannot be entered are left out.
	Frames(ctx context.Context) ([]Page, error)
	// Frame returns the document of the first frame element matching css.
	Frame(ctx context.Context, css string) (Page, error)
	// EvalBool runs a one-argument script function and returns its result.
	EvalBool(ctx context.Context, js, arg string) (bool, error)
}

// Node is a single live element.
type Node interface {
	Tag(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	InnerHTML(ctx context.Context) (string, error)
	Value(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	Input(ctx context.Context, text string) error
}

// Resolver turns selectors into Element proxies.
type Resolver struct {
	// Timeout bounds each lookup. Zero means no bound beyond ctx.
	Timeout time.Duration
	// Pace controls the delays of the returned proxies.
	Pace   Pace
	Logger *slog.Logger
}

// NewResolver returns a Resolver with default pacing.
func NewResolver(timeout time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Timeout: timeout, Pace: DefaultPace(), Logger: logger}
}

// Resolve parses raw and looks it up on page.
func (r *Resolver) Resolve(ctx context.Context, page Page, raw string) (*Element, bool) {
	return r.ResolveSelector(ctx, page, Parse(raw))
}

// ResolveSelector looks sel up on page. The boolean is false on any miss,
// lookup error or timeout.
func (r *Resolver) ResolveSelector(ctx context.Context, page Page, sel Selector) (*Element, bool) {
	if sel.Empty() || page == nil {
		return nil, false
	}

	lookupCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	target := page
	if sel.Frame != "" {
		frame, err := page.Frame(lookupCtx, sel.Frame)
		if err != nil || frame == nil {
			r.logger().Debug("selector: frame miss", "frame", sel.Frame, "error", err)
			return nil, false
		}
		target = frame
	}

	var node Node
	var err error
	switch {
	case sel.XPath():
		node, err = first(target.QueryXPath(lookupCtx, sel.Query))
	case sel.Frame != "":
		node, err = first(target.Query(lookupCtx, sel.Query))
	default:
		node, target, err = deepQuery(lookupCtx, target, sel.Query)
	}
	if err != nil || node == nil {
		if err != nil {
			r.logger().Debug("selector: lookup failed", "selector", sel.Raw, "error", err)
		}
		return nil, false
	}

	return &Element{
		node:   node,
		page:   target,
		sel:    sel,
		pace:   r.Pace,
		logger: r.logger(),
	}, true
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func first(nodes []Node, err error) (Node, error) {
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// deepQuery searches page, then every enterable frame depth-first. It returns
// the page the node was found in.
func deepQuery(ctx context.Context, page Page, css string) (Node, Page, error) {
	node, err := first(page.Query(ctx, css))
	if err != nil {
		return nil, nil, err
	}
	if node != nil {
		return node, page, nil
	}

	frames, err := page.Frames(ctx)
	if err != nil {
		// Frame enumeration failing does not invalidate the top-level miss.
		return nil, nil, nil
	}
	for _, f := range frames {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		n, p, err := deepQuery(ctx, f, css)
		if err != nil {
			continue
		}
		if n != nil {
			return n, p, nil
		}
	}
	return nil, nil, nil
}
