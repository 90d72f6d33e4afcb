// Package server exposes the automation machine over HTTP: a landing page,
// a session start endpoint, and the form round-trip that drives a flow one
// submission at a time.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/middleman/automate"
	"github.com/hazyhaar/middleman/history"
	"github.com/hazyhaar/middleman/pattern"
	"github.com/hazyhaar/middleman/render"
	"github.com/hazyhaar/middleman/session"
	"github.com/hazyhaar/middleman/shield"
)

// RunLister lists recent automation runs.
type RunLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Config wires a Server.
type Config struct {
	// Patterns is the pattern library directory.
	Patterns string
	// History, when set, backs GET /runs.
	History RunLister
	// Limiter, when set, is appended to the middleware stack.
	Limiter *shield.RateLimiter
	Logger  *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	machine  *automate.Machine
	renderer *render.Renderer
	patterns string
	history  RunLister
	limiter  *shield.RateLimiter
	logger   *slog.Logger
}

// New creates a Server driving machine.
func New(cfg Config, machine *automate.Machine, renderer *render.Renderer) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if renderer == nil {
		renderer = render.New()
	}
	return &Server{
		machine:  machine,
		renderer: renderer,
		patterns: cfg.Patterns,
		history:  cfg.History,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
	}
}

// DefaultLimits caps session starts per client.
func DefaultLimits() map[string]shield.RateLimitConfig {
	return map[string]shield.RateLimitConfig{
		"GET /start": {MaxRequests: 10, Window: time.Minute},
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.limiter) {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleHome)
	r.Get("/start", s.handleStart)
	r.Post("/link/{id}", s.handleLink)
	r.Get("/patterns", s.handlePatterns)
	r.Get("/runs", s.handleRuns)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": float64(now.UnixNano()) / 1e9,
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	page, err := s.renderer.Home()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeHTML(w, http.StatusOK, page)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	if location == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing location"))
		return
	}
	sess, err := s.machine.Sessions().Start(r.Context(), location)
	if err != nil {
		shield.GetLogger(r.Context()).Error("server: start session", "location", location, "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	page, err := s.renderer.Redirect("/link/" + sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeHTML(w, http.StatusOK, page)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := shield.GetLogger(r.Context()).With("session", id)

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fields := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}

	out, err := s.machine.Continue(r.Context(), id, fields)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, automate.ErrTimeout):
		log.Warn("server: flow timed out")
		http.Error(w, "Timeout reached", http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Error("server: continue", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch out.Kind {
	case automate.OutcomeRecords:
		writeJSON(w, http.StatusOK, out.Records)
		return
	case automate.OutcomeForm:
		page, err := s.renderer.Page(out.Title, "/link/"+id, out.Body)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeHTML(w, http.StatusOK, page)
	default:
		page, err := s.renderer.Page(out.Title, "", out.Body)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeHTML(w, http.StatusOK, page)
	}
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	names, err := pattern.List(s.patterns)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("run history disabled"))
		return
	}
	runs, err := s.history.List(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeHTML(w http.ResponseWriter, code int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(page))
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
