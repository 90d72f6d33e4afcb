// Package session keeps the registry of live automation sessions. A session
// owns one browser tab from Start until Finalize.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/middleman/idgen"
	"github.com/hazyhaar/middleman/selector"
)

// ErrNotFound is returned for ids that name no live session.
var ErrNotFound = errors.New("session: not found")

// IDLength is the length of generated session ids.
const IDLength = 6

// Tab is a browser tab opened for a session.
type Tab interface {
	Page() selector.Page
	Close() error
}

// Opener opens a tab navigated to location.
type Opener interface {
	Open(ctx context.Context, location string) (Tab, error)
}

// Session is one live browser session.
type Session struct {
	ID       string
	Hostname string
	Location string
	Started  time.Time

	tab Tab
	mu  sync.Mutex
}

// Page returns the live page of the session's tab.
func (s *Session) Page() selector.Page { return s.tab.Page() }

// Lock serialises automation steps on the session.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager is the session registry.
type Manager struct {
	opener Opener
	newID  idgen.Generator
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a registry that opens tabs through opener.
func NewManager(opener Opener, opts ...Option) *Manager {
	m := &Manager{
		opener:   opener,
		newID:    idgen.Friendly(IDLength),
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start normalises location, opens a tab on it and registers the session.
func (m *Manager) Start(ctx context.Context, location string) (*Session, error) {
	loc, host, err := Normalize(location)
	if err != nil {
		return nil, err
	}
	tab, err := m.opener.Open(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", loc, err)
	}

	s := &Session{Hostname: host, Location: loc, Started: time.Now(), tab: tab}

	m.mu.Lock()
	for {
		s.ID = m.newID()
		if _, taken := m.sessions[s.ID]; !taken {
			break
		}
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session: started", "id", s.ID, "location", loc, "hostname", host)
	return s, nil
}

// Adopt registers a session around an already open tab. Offline
// distillation uses it for saved pages.
func (m *Manager) Adopt(location, hostname string, tab Tab) *Session {
	s := &Session{Hostname: hostname, Location: location, Started: time.Now(), tab: tab}
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		s.ID = m.newID()
		if _, taken := m.sessions[s.ID]; !taken {
			break
		}
	}
	m.sessions[s.ID] = s
	return s
}

// Get returns the live session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Finalize removes the session and closes its tab. Finalizing an unknown or
// already finalized session is a no-op. Close failures are logged.
func (m *Manager) Finalize(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := s.tab.Close(); err != nil {
		m.logger.WarnContext(ctx, "session: close tab", "id", id, "error", err)
	}
	m.logger.InfoContext(ctx, "session: finalized", "id", id, "duration", time.Since(s.Started))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll finalizes every live session.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Finalize(ctx, id)
	}
}

// Normalize prefixes a missing scheme with https:// and returns the URL
// together with its hostname.
func Normalize(location string) (string, string, error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return "", "", errors.New("session: empty location")
	}
	if !strings.HasPrefix(loc, "http://") && !strings.HasPrefix(loc, "https://") {
		loc = "https://" + loc
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", "", fmt.Errorf("session: parse location: %w", err)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("session: no host in %q", location)
	}
	return loc, u.Hostname(), nil
}
