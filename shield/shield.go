// Package shield holds the HTTP middleware of the middleman server:
// security headers, body limits, request tracing, HEAD handling and a
// per-client limit on session starts.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(limiter) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Stack returns the middleware applied to every route, outermost first:
// HeadToGet, SecurityHeaders, MaxFormBody, TraceID, then rl when non-nil.
func Stack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
