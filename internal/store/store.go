// Package store defines the durable persistence boundary of sessions.
package store

import (
	"context"
	defError "errors"
	"time"

	"collaborative-draft-editor/internal/domain"
)

var (
	ErrNotFound        = defError.New("store: not found")
	ErrAlreadyExists   = defError.New("store: already exists")
	ErrVersionMismatch = defError.New("store: expected prior version mismatch")
	ErrUnavailable     = defError.New("store: unavailable")
)

// DurableStore persists sessions, their versions, conflicts and snapshots.
// AppendVersion is a compare-and-append: it succeeds only when the session's
// latest version is expectedPrior (-1 for the seed version) and advances the
// session's current version pointer in the same write.
type DurableStore interface {
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSession(ctx context.Context, session *domain.Session) error
	AppendVersion(ctx context.Context, sessionID string, version domain.ContentVersion, expectedPrior int64) error
	ListVersions(ctx context.Context, sessionID string) ([]domain.ContentVersion, error)

	SaveConflict(ctx context.Context, record domain.ConflictRecord) error
	ListConflicts(ctx context.Context, sessionID string) ([]domain.ConflictRecord, error)

	SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error
	LatestSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error)
	// Restore replaces the session and its whole history with the snapshot
	Restore(ctx context.Context, snapshot domain.Snapshot) error

	ListSessions(ctx context.Context) ([]string, error)
}

// Permanent reports whether err is a definitive answer rather than a
// transient storage fault
func Permanent(err error) bool {
	return defError.Is(err, ErrNotFound) ||
		defError.Is(err, ErrAlreadyExists) ||
		defError.Is(err, ErrVersionMismatch) ||
		defError.Is(err, context.Canceled) ||
		defError.Is(err, context.DeadlineExceeded)
}

// RetryPolicy bounds the exponential backoff of transient failures
type RetryPolicy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Initial: 50 * time.Millisecond, Max: 2 * time.Second}
}
