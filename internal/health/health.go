// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK, together with
//     informational fields such as the current session state.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail"),
// a "checks" map containing the result of each named checker, and an optional
// "info" map.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "config",
	// "audio"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Flag is a one-way readiness condition, such as "audio device opened once"
// or "config loaded". It is safe for concurrent use.
type Flag struct {
	name string
	set  atomic.Bool
}

// NewFlag returns an unset flag reported under name.
func NewFlag(name string) *Flag { return &Flag{name: name} }

// Set marks the condition as met.
func (f *Flag) Set() { f.set.Store(true) }

// IsSet reports whether Set has been called.
func (f *Flag) IsSet() bool { return f.set.Load() }

// Checker adapts the flag to a readiness [Checker].
func (f *Flag) Checker() Checker {
	return Checker{Name: f.name, Check: func(context.Context) error {
		if !f.IsSet() {
			return errors.New("not yet")
		}
		return nil
	}}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	info     func() map[string]string
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// WithInfo sets a function whose result is reported under "info" by /healthz.
// It must be safe for concurrent use.
func (h *Handler) WithInfo(fn func() map[string]string) *Handler {
	h.info = fn
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.info != nil {
		res.Info = h.info()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
