package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

// Pace holds the delays imposed around element actions. Typing one character
// at a time with jitter is what keeps sign-in forms on third-party sites from
// flagging the session as a bot.
type Pace struct {
	// Settle is slept after every click and after typing.
	Settle time.Duration
	// Clear is slept between clearing an input and typing into it.
	Clear time.Duration
	// KeyMin and KeyMax bound the random delay after each character.
	KeyMin time.Duration
	KeyMax time.Duration
	// Action bounds each native click, clear and keystroke. A covered or
	// disabled element makes the browser wait forever otherwise. Zero
	// leaves actions bounded by the caller's context only.
	Action time.Duration
}

// DefaultPace returns the production pacing.
func DefaultPace() Pace {
	return Pace{
		Settle: 250 * time.Millisecond,
		Clear:  100 * time.Millisecond,
		KeyMin: 10 * time.Millisecond,
		KeyMax: 50 * time.Millisecond,
		Action: 5 * time.Second,
	}
}

// action runs fn under the per-action bound.
func (p Pace) action(ctx context.Context, fn func(context.Context) error) error {
	if p.Action <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.Action)
	defer cancel()
	return fn(actx)
}

func (p Pace) keyDelay() time.Duration {
	if p.KeyMax <= p.KeyMin {
		return p.KeyMin
	}
	return p.KeyMin + rand.N(p.KeyMax-p.KeyMin)
}

// Element is a resolved element together with the selector that found it.
type Element struct {
	node   Node
	page   Page
	sel    Selector
	pace   Pace
	logger *slog.Logger
}

// Selector returns the selector the element was resolved with.
func (e *Element) Selector() Selector { return e.sel }

// Tag returns the lower-case tag name, or "" when it cannot be read.
func (e *Element) Tag(ctx context.Context) string {
	tag, err := e.node.Tag(ctx)
	if err != nil {
		return ""
	}
	return strings.ToLower(tag)
}

// ReadText returns the rendered text of the element.
func (e *Element) ReadText(ctx context.Context) (string, error) {
	return e.node.Text(ctx)
}

// ReadMarkup returns the inner markup of the element.
func (e *Element) ReadMarkup(ctx context.Context) (string, error) {
	return e.node.InnerHTML(ctx)
}

// Value returns the current value of a form control.
func (e *Element) Value(ctx context.Context) (string, error) {
	return e.node.Value(ctx)
}

// Click clicks the element natively and falls back to a script click when
// the native click fails. The returned error is non-nil only when both
// attempts failed.
func (e *Element) Click(ctx context.Context) error {
	defer Sleep(ctx, e.pace.Settle)

	err := e.pace.action(ctx, e.node.Click)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.logger.Debug("selector: native click failed, trying script", "selector", e.sel.Raw, "error", err)

	script, arg := cssClickScript, e.sel.Query
	if e.sel.XPath() {
		script = xpathClickScript
	}
	found, serr := e.page.EvalBool(ctx, script, arg)
	if serr != nil {
		e.logger.Warn("selector: script click failed", "selector", e.sel.Raw, "error", serr)
		return fmt.Errorf("selector: click %s: %w", e.sel.Raw, serr)
	}
	if !found {
		e.logger.Warn("selector: script click found no element", "selector", e.sel.Raw)
		return fmt.Errorf("selector: click %s: element not found", e.sel.Raw)
	}
	e.logger.Debug("selector: script click succeeded", "selector", e.sel.Raw)
	return nil
}

// Type replaces the element's content with text, one character at a time.
func (e *Element) Type(ctx context.Context, text string) error {
	if err := e.pace.action(ctx, e.node.Clear); err != nil {
		return fmt.Errorf("selector: clear %s: %w", e.sel.Raw, err)
	}
	if err := Sleep(ctx, e.pace.Clear); err != nil {
		return err
	}
	for _, r := range text {
		err := e.pace.action(ctx, func(actx context.Context) error {
			return e.node.Input(actx, string(r))
		})
		if err != nil {
			return fmt.Errorf("selector: type %s: %w", e.sel.Raw, err)
		}
		if err := Sleep(ctx, e.pace.keyDelay()); err != nil {
			return err
		}
	}
	return Sleep(ctx, e.pace.Settle)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cssClickScript searches the document and every same-origin frame for the
// selector, scrolls the match into view and clicks it. Frames that throw on
// access (cross-origin) are skipped.
const cssClickScript = `(selector) => {
	function find(doc) {
		if (!doc) return null;
		try {
			const el = doc.querySelector(selector);
			if (el) return el;
		} catch (e) {}
		for (const frame of doc.querySelectorAll("iframe")) {
			try {
				const found = find(frame.contentDocument || frame.contentWindow.document);
				if (found) return found;
			} catch (e) {}
		}
		return null;
	}
	const el = find(document);
	if (!el) return false;
	el.scrollIntoView({ block: "center" });
	el.click();
	return true;
}`

const xpathClickScript = `(xpath) => {
	const el = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	el.click();
	return true;
}`
