// Package healthz aggregates the health.Pinger checks exposed by the data
// plane's storage and transport clients (the Conversation State Store
// backend, provider clients, etc.) into a single liveness/readiness surface.
package healthz

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/health"
)

// CheckResult is one checker's outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Report is the aggregate outcome of every registered checker.
type Report struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// Checker aggregates a set of health.Pinger dependencies and evaluates them
// on demand, bounding each ping with a per-call timeout so one wedged
// dependency cannot stall the whole report.
type Checker struct {
	mu      sync.RWMutex
	pingers []health.Pinger
	timeout time.Duration
}

// DefaultPingTimeout bounds an individual Pinger.Ping call when the Checker
// is built with NewChecker's zero-value timeout.
const DefaultPingTimeout = 2 * time.Second

// NewChecker builds a Checker over the given dependencies.
func NewChecker(timeout time.Duration, pingers ...health.Pinger) *Checker {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	return &Checker{pingers: pingers, timeout: timeout}
}

// Register adds another dependency to the checker, e.g. once a backend is
// dialed after the Checker itself was constructed.
func (c *Checker) Register(p health.Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingers = append(c.pingers, p)
}

// Check pings every registered dependency and returns the aggregate report.
// A Checker with no registered dependencies reports healthy.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	pingers := append([]health.Pinger(nil), c.pingers...)
	c.mu.RUnlock()

	report := Report{Healthy: true, Checks: make([]CheckResult, len(pingers))}
	for i, p := range pingers {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(pctx)
		cancel()

		result := CheckResult{Name: p.Name()}
		if err != nil {
			result.Error = err.Error()
			report.Healthy = false
		} else {
			result.Healthy = true
		}
		report.Checks[i] = result
	}
	return report
}

// Handler serves Check as a JSON document, responding 200 when every
// dependency is healthy and 503 otherwise. Intended to back a liveness or
// readiness probe endpoint on the agent listener.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
