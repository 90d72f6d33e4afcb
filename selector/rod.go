package selector

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RodPage adapts a Rod page (or frame) to Page.
type RodPage struct {
	page *rod.Page
}

// NewRodPage wraps p.
func NewRodPage(p *rod.Page) *RodPage {
	return &RodPage{page: p}
}

// Rod returns the underlying Rod page.
func (p *RodPage) Rod() *rod.Page { return p.page }

func (p *RodPage) Query(ctx context.Context, css string) ([]Node, error) {
	els, err := p.page.Context(ctx).Elements(css)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (p *RodPage) QueryXPath(ctx context.Context, xpath string) ([]Node, error) {
	els, err := p.page.Context(ctx).ElementsX(xpath)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (p *RodPage) Frames(ctx context.Context) ([]Page, error) {
	els, err := p.page.Context(ctx).Elements("iframe")
	if err != nil {
		return nil, err
	}
	frames := make([]Page, 0, len(els))
	for _, el := range els {
		f, err := el.Context(ctx).Frame()
		if err != nil {
			continue
		}
		frames = append(frames, &RodPage{page: f})
	}
	return frames, nil
}

func (p *RodPage) Frame(ctx context.Context, css string) (Page, error) {
	els, err := p.page.Context(ctx).Elements(css)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFrame, css)
	}
	f, err := els.First().Context(ctx).Frame()
	if err != nil {
		return nil, fmt.Errorf("selector: enter frame %s: %w", css, err)
	}
	return &RodPage{page: f}, nil
}

func (p *RodPage) EvalBool(ctx context.Context, js, arg string) (bool, error) {
	res, err := p.page.Context(ctx).Eval(js, arg)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func wrapElements(els rod.Elements) []Node {
	nodes := make([]Node, len(els))
	for i, el := range els {
		nodes[i] = &rodNode{el: el}
	}
	return nodes
}

// rodNode adapts a Rod element. Every call rebinds the element to the
// caller's context so nodes outlive the lookup timeout that found them.
type rodNode struct {
	el *rod.Element
}

func (n *rodNode) evalString(ctx context.Context, js string) (string, error) {
	res, err := n.el.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (n *rodNode) Tag(ctx context.Context) (string, error) {
	return n.evalString(ctx, `() => this.tagName.toLowerCase()`)
}

func (n *rodNode) Text(ctx context.Context) (string, error) {
	return n.el.Context(ctx).Text()
}

func (n *rodNode) InnerHTML(ctx context.Context) (string, error) {
	return n.evalString(ctx, `() => this.innerHTML`)
}

func (n *rodNode) Value(ctx context.Context) (string, error) {
	return n.evalString(ctx, `() => this.value == null ? "" : String(this.value)`)
}

func (n *rodNode) Click(ctx context.Context) error {
	return n.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (n *rodNode) Clear(ctx context.Context) error {
	el := n.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input("")
}

func (n *rodNode) Input(ctx context.Context, text string) error {
	return n.el.Context(ctx).Input(text)
}
