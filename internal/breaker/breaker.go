// Package breaker provides per-agent circuit breakers that stop sending load
// to an agent observed failing, and prevent hammering it once open.
//
// A rejected admission is never a fatal error: callers treat it as "this
// agent is currently unavailable" and continue with the others. No agent is
// ever permanently banned.
package breaker

import (
	"sync"
	"time"

	"log/slog"

	"github.com/alphahunt-ai/alphahunt/internal/model"
)

// State is the breaker position for one agent.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Status is a read-only view of one agent's breaker.
type Status struct {
	State       State     `json:"state"`
	Failures    uint      `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	OpenedAt    time.Time `json:"opened_at,omitzero"`
}

type entry struct {
	state       State
	failures    uint
	lastFailure time.Time
	lastSuccess time.Time
	openedAt    time.Time
}

// Registry tracks one breaker per agent key. Breaker state is process-memory
// only and never persisted.
type Registry struct {
	logger   *slog.Logger
	now      func() time.Time // injected for tests
	coolDown time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a breaker registry with the standard threshold and
// cool-down from the protocol parameters.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		now:      time.Now,
		coolDown: model.BreakerCoolDown,
		entries:  make(map[string]*entry),
	}
}

// WithClock substitutes the time source. Test hook.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) get(key string) *entry {
	e, ok := r.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		r.entries[key] = e
	}
	return e
}

// Allow reports whether a call to the agent should be admitted. While open,
// calls are rejected until the cool-down elapses; the first admission check
// after that transitions to half-open and admits exactly one probe.
func (r *Registry) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(key)
	switch e.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// The single probe is already in flight.
		return false
	case StateOpen:
		if r.now().Sub(e.openedAt) < r.coolDown {
			return false
		}
		e.state = StateHalfOpen
		r.logger.Info("breaker: half-open, admitting probe", "agent", key)
		return true
	}
	return true
}

// RecordSuccess notes a successful call. A half-open probe success closes the
// breaker and resets the failure count.
func (r *Registry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(key)
	e.lastSuccess = r.now()
	if e.state == StateHalfOpen {
		r.logger.Info("breaker: probe succeeded, closing", "agent", key)
	}
	e.state = StateClosed
	e.failures = 0
}

// RecordFailure notes a failed call. Three consecutive failures open the
// breaker; a failed half-open probe re-opens it with a refreshed OpenedAt.
func (r *Registry) RecordFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(key)
	now := r.now()
	e.lastFailure = now

	if e.state == StateHalfOpen {
		e.state = StateOpen
		e.openedAt = now
		r.logger.Warn("breaker: probe failed, re-opening", "agent", key)
		return
	}

	e.failures++
	if e.state == StateClosed && e.failures >= model.BreakerFailureThreshold {
		e.state = StateOpen
		e.openedAt = now
		r.logger.Warn("breaker: opened", "agent", key, "failures", e.failures)
	}
}

// Status returns a snapshot of one agent's breaker.
func (r *Registry) Status(key string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(key)
	return Status{
		State:       e.state,
		Failures:    e.failures,
		LastFailure: e.lastFailure,
		LastSuccess: e.lastSuccess,
		OpenedAt:    e.openedAt,
	}
}

// OpenCount returns the number of breakers currently open or half-open.
// Exposed as an observability gauge.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.state != StateClosed {
			n++
		}
	}
	return n
}
