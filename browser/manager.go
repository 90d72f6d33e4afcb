// Package browser connects to Chrome over the DevTools protocol and opens
// the tabs automation sessions run in.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/middleman/session"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools endpoint of a running Chrome, either the
	// HTTP address (http://127.0.0.1:9222) or a WebSocket URL.
	// Empty = launch a local headless Chrome via launcher.
	RemoteURL string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// Denylist holds URL substrings whose requests are failed.
	Denylist []string

	// Stealth applies go-rod/stealth evasions to every new tab. Default: true.
	Stealth *bool

	// NavigationTimeout bounds the initial navigation of a tab. Default: 30s.
	NavigationTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Stealth == nil {
		on := true
		c.Stealth = &on
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager holds the browser connection.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

var _ session.Opener = (*Manager)(nil)

// NewManager creates a browser Manager. Call Start to connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start connects to the remote Chrome (or launches a local one).
func (m *Manager) Start() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.connect()
	if err != nil {
		return nil, err
	}
	m.browser = b
	return b, nil
}

// Browser returns the current Rod browser handle. Thread-safe.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Open implements session.Opener: it opens a new tab navigated to location.
func (m *Manager) Open(ctx context.Context, location string) (session.Tab, error) {
	t, err := OpenTab(ctx, m, location)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Close disconnects from Chrome. A locally launched Chrome is killed; a
// remote one is left running.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.lnch != nil {
		if m.browser != nil {
			m.browser.Close()
		}
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.browser = nil
	return nil
}

func (m *Manager) connect() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		u, err := launcher.ResolveURL(m.cfg.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, m.cfg.RemoteURL, err)
		}
		wsURL = u
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}
