// Package session keeps one capture controller per client session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/measulor/internal/capture"
)

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = 15 * time.Minute

// Factory builds the controller for a new session.
type Factory func(sessionID string) *capture.Controller

type entry struct {
	controller *capture.Controller
	lastSeen   time.Time
}

// Registry maps session IDs to controllers.
type Registry struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the idle eviction threshold.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   zap.NewNop(),
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("session")
	return r
}

// Create starts a new session with an Idle controller.
func (r *Registry) Create() (string, *capture.Controller) {
	id := uuid.NewString()
	ctrl := r.factory(id)

	r.mu.Lock()
	r.sessions[id] = &entry{controller: ctrl, lastSeen: r.now()}
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Debug("session created", zap.String("session_id", id), zap.Int("sessions", count))
	return id, ctrl
}

// Get returns the session's controller and marks it as used.
func (r *Registry) Get(id string) (*capture.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.controller, true
}

// Delete drops a session. A request still in flight completes unobserved.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		r.logger.Debug("session deleted", zap.String("session_id", id))
	}
	return ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions untouched for longer than the TTL. Sessions with a
// request in flight are kept regardless of age.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var evicted []string
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) {
			continue
		}
		if e.controller.Current().State.InFlight() {
			continue
		}
		delete(r.sessions, id)
		evicted = append(evicted, id)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if len(evicted) > 0 {
		r.logger.Info("evicted idle sessions",
			zap.Int("evicted", len(evicted)),
			zap.Int("remaining", remaining),
		)
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
