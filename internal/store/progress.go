package store

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrSessionCompleted is returned by Update once a session has been finalized.
	// The stored status is left untouched.
	ErrSessionCompleted = errors.New("import session already completed")
	// ErrInvalidStatus rejects an initial status whose completed flag and result disagree.
	ErrInvalidStatus = errors.New("invalid import status")
)

// ImportResult is attached to a session when the import finishes.
type ImportResult struct {
	Success      bool `json:"success"`
	TotalRows    int  `json:"totalRows"`
	ImportedRows int  `json:"importedRows"`

	// Errors keeps messages in occurrence order, duplicates included.
	Errors    []string `json:"errors"`
	SessionID string   `json:"sessionId"`

	// Duration is the elapsed run time in milliseconds.
	Duration int64 `json:"duration"`
}

// ImportStatus is the polled view of one import session.
type ImportStatus struct {
	Progress    float64       `json:"progress"`
	CurrentStep string        `json:"currentStep"`
	Completed   bool          `json:"completed"`
	Result      *ImportResult `json:"result,omitempty"`
}

// StatusUpdate carries a partial status change. Nil fields are left as they are.
type StatusUpdate struct {
	Progress    *float64 `json:"progress,omitempty"`
	CurrentStep *string  `json:"currentStep,omitempty"`
}

// Validate checks that Result is present exactly when Completed is set.
func (s ImportStatus) Validate() error {
	if s.Completed != (s.Result != nil) {
		return ErrInvalidStatus
	}
	return nil
}

// Apply merges the non-nil fields of u into s.
func (u StatusUpdate) Apply(s *ImportStatus) {
	if u.Progress != nil {
		s.Progress = *u.Progress
	}
	if u.CurrentStep != nil {
		s.CurrentStep = *u.CurrentStep
	}
}

// Clone returns a deep copy so callers never share the Errors backing array.
func (s ImportStatus) Clone() ImportStatus {
	out := s
	if s.Result != nil {
		res := s.Result.Clone()
		out.Result = &res
	}
	return out
}

// Clone returns a deep copy of r.
func (r ImportResult) Clone() ImportResult {
	out := r
	out.Errors = slices.Clone(r.Errors)
	return out
}

// ProgressTracker records the status of import sessions. Implementations must
// be safe for concurrent use; a single producer per session is assumed.
type ProgressTracker interface {
	// Create registers a session. An existing session with the same ID is overwritten.
	Create(ctx context.Context, sessionID string, status ImportStatus) error
	// Update merges progress and current step, returning ErrNotFound for unknown
	// sessions and ErrSessionCompleted for finalized ones.
	Update(ctx context.Context, sessionID string, update StatusUpdate) error
	// Complete marks the session completed and attaches the result. Last write wins.
	Complete(ctx context.Context, sessionID string, result ImportResult) error
	// Get returns a snapshot of the session or ErrNotFound.
	Get(ctx context.Context, sessionID string) (ImportStatus, error)
	// Delete drops the session or returns ErrNotFound.
	Delete(ctx context.Context, sessionID string) error
}
