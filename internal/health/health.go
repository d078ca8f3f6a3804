// Package health serves liveness and readiness probes on the stats
// listener so orchestrated runs can be supervised like any service.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status is a probe outcome.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Response is the JSON body returned by the probe endpoints.
type Response struct {
	Status     Status            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

// CheckFunc returns nil when a component is healthy.
type CheckFunc func() error

// Checker serves /live and /ready. Liveness fails only during
// shutdown; readiness additionally runs the registered checks, such as
// the sink connection probe.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]CheckFunc
	shuttingDown atomic.Bool
}

// New creates a Checker.
func New() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// RegisterReadiness adds a named readiness check, run on each /ready
// request.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// SetShuttingDown flips both probes to 503 for the rest of the
// process lifetime.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// LiveHandler serves the liveness probe.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.write(w, http.StatusServiceUnavailable, Response{
				Status:     StatusDown,
				Components: map[string]string{"process": "shutting down"},
			})
			return
		}
		c.write(w, http.StatusOK, Response{Status: StatusUp})
	}
}

// ReadyHandler serves the readiness probe.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.write(w, http.StatusServiceUnavailable, Response{
				Status:     StatusDown,
				Components: map[string]string{"process": "shutting down"},
			})
			return
		}

		c.mu.RLock()
		checks := make(map[string]CheckFunc, len(c.checks))
		for name, fn := range c.checks {
			checks[name] = fn
		}
		c.mu.RUnlock()

		status := StatusUp
		code := http.StatusOK
		components := make(map[string]string, len(checks))
		for name, fn := range checks {
			if err := fn(); err != nil {
				status = StatusDown
				code = http.StatusServiceUnavailable
				components[name] = err.Error()
			} else {
				components[name] = "ok"
			}
		}
		c.write(w, code, Response{Status: status, Components: components})
	}
}

func (c *Checker) write(w http.ResponseWriter, code int, resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
