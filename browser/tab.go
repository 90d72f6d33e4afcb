package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/middleman/selector"
)

// Tab wraps a Rod page opened for a session: stealth evasions, request
// blocking and the initial navigation.
type Tab struct {
	page   *rod.Page
	router *rod.HijackRouter
	url    string
}

// OpenTab creates a new tab and navigates it to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	var page *rod.Page
	var err error
	if *mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{page: page, url: pageURL}
	if bl := newBlocker(mgr.cfg.ResourceBlocking, mgr.cfg.Denylist); !bl.empty() {
		t.router = applyResourceBlocking(page, bl)
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	log.Info("browser: tab opened", "url", pageURL)
	return t, nil
}

// Page returns the tab's document as a selector.Page.
func (t *Tab) Page() selector.Page {
	return selector.NewRodPage(t.page)
}

// URL returns the address the tab was opened on.
func (t *Tab) URL() string { return t.url }

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}
