// Package memory provides in-process store implementations for single-instance
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/store"
)

// ProgressTracker keeps import session status in a mutex-guarded map.
// Completed sessions are evicted by Sweep once they are older than the
// configured retention; a zero retention keeps them until Delete is called.
type ProgressTracker struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
	onSize    func(int)
}

type session struct {
	status      store.ImportStatus
	completedAt time.Time
}

// Option customizes a ProgressTracker.
type Option func(*ProgressTracker)

// WithRetention sets how long completed sessions survive a Sweep.
func WithRetention(d time.Duration) Option {
	return func(t *ProgressTracker) {
		t.retention = d
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *ProgressTracker) {
		t.now = now
	}
}

// WithLogger attaches a logger used for overwrite warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(t *ProgressTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSizeObserver registers fn to receive the session count after every
// Create, Delete and evicting Sweep. fn runs under the tracker lock and must
// not call back into the tracker.
func WithSizeObserver(fn func(int)) Option {
	return func(t *ProgressTracker) {
		t.onSize = fn
	}
}

// NewProgressTracker constructs an empty ProgressTracker.
func NewProgressTracker(opts ...Option) *ProgressTracker {
	t := &ProgressTracker{
		sessions: make(map[string]*session),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create stores a new session, overwriting any previous one with the same ID.
func (t *ProgressTracker) Create(_ context.Context, sessionID string, status store.ImportStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	s := &session{status: status.Clone()}
	if status.Completed {
		s.completedAt = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[sessionID]; exists {
		t.logger.Warn("overwriting existing import session", zap.String("session_id", sessionID))
	}
	t.sessions[sessionID] = s
	t.observeSize()
	return nil
}

// Update merges progress and step into a running session.
func (t *ProgressTracker) Update(_ context.Context, sessionID string, update store.StatusUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if s.status.Completed {
		return store.ErrSessionCompleted
	}
	update.Apply(&s.status)
	return nil
}

// Complete finalizes a session with its result.
func (t *ProgressTracker) Complete(_ context.Context, sessionID string, result store.ImportResult) error {
	res := result.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	s.status.Completed = true
	s.status.Result = &res
	s.completedAt = t.now()
	return nil
}

// Get returns a copy of the session status.
func (t *ProgressTracker) Get(_ context.Context, sessionID string) (store.ImportStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return store.ImportStatus{}, store.ErrNotFound
	}
	return s.status.Clone(), nil
}

// Delete removes a session.
func (t *ProgressTracker) Delete(_ context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sessionID]; !ok {
		return store.ErrNotFound
	}
	delete(t.sessions, sessionID)
	t.observeSize()
	return nil
}

// observeSize must be called with mu held.
func (t *ProgressTracker) observeSize() {
	if t.onSize != nil {
		t.onSize(len(t.sessions))
	}
}

// Len reports how many sessions are currently held.
func (t *ProgressTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Sweep evicts completed sessions older than the retention and returns how
// many were removed. Running sessions are never evicted.
func (t *ProgressTracker) Sweep() int {
	if t.retention <= 0 {
		return 0
	}
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.sessions {
		if s.status.Completed && !s.completedAt.After(cutoff) {
			delete(t.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		t.observeSize()
	}
	return removed
}

// Run calls Sweep every interval until ctx is done. onSweep, when non-nil,
// receives the eviction count and remaining size after every pass.
func (t *ProgressTracker) Run(ctx context.Context, interval time.Duration, onSweep func(evicted, remaining int)) {
	if interval <= 0 || t.retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := t.Sweep()
			if evicted > 0 {
				t.logger.Debug("evicted completed import sessions", zap.Int("count", evicted))
			}
			if onSweep != nil {
				onSweep(evicted, t.Len())
			}
		}
	}
}
