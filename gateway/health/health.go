// Package health holds named liveness checks for the gateway's backing
// resources and serves their combined status.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker reports whether one resource is serviceable.
type Checker interface {
	// Check returns nil if the resource is okay.
	Check() error
}

// CheckFunc adapts a plain function to the Checker interface.
type CheckFunc func() error

func (cf CheckFunc) Check() error {
	return cf()
}

// Registry is a named set of checks. The zero value is unusable; use
// NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a named check. Re-registering a name replaces the
// previous check.
func (reg *Registry) Register(name string, check Checker) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.checks[name] = check
}

// RegisterFunc is Register for a bare function.
func (reg *Registry) RegisterFunc(name string, check func() error) {
	reg.Register(name, CheckFunc(check))
}

// RegisterPeriodic runs check every interval in the background and
// registers a checker returning the most recent outcome, so a slow
// probe never blocks status requests.
func (reg *Registry) RegisterPeriodic(name string, interval time.Duration, check CheckFunc) {
	u := &updater{}
	go func() {
		for {
			u.update(check())
			time.Sleep(interval)
		}
	}()
	reg.Register(name, u)
}

type updater struct {
	mu     sync.Mutex
	status error
}

func (u *updater) Check() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *updater) update(status error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
}

// CheckStatus runs every check and returns the failures by name.
func (reg *Registry) CheckStatus() map[string]string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	failures := make(map[string]string)
	for name, check := range reg.checks {
		if err := check.Check(); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}

// Handler serves the aggregate status: 200 with {"status":"ok"} when all
// checks pass, 503 with the failing checks otherwise.
func (reg *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failures := reg.CheckStatus()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			// nolint:errcheck
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "unavailable",
				"checks": failures,
			})
			return
		}
		// nolint:errcheck
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}
