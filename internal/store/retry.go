package store

import (
	"context"
	defError "errors"
	"log"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/metrics"

	"github.com/cenkalti/backoff/v5"
)

type retrying struct {
	inner  DurableStore
	policy RetryPolicy
}

// WithRetry wraps inner so transient failures are retried with bounded
// exponential backoff
func WithRetry(inner DurableStore, policy RetryPolicy) DurableStore {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	return &retrying{inner: inner, policy: policy}
}

func (r *retrying) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.Initial
	if r.policy.Max > 0 {
		b.MaxInterval = r.policy.Max
	}
	return b
}

func do[T any](ctx context.Context, r *retrying, name string, op func() (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 {
			metrics.StorageRetries.WithLabelValues(name).Inc()
		}
		v, err := op()
		if err != nil && Permanent(err) {
			return v, backoff.Permanent(err)
		}
		if err != nil {
			log.Printf("[STORE] %s attempt %d failed: %v", name, attempt, err)
		}
		return v, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.policy.Attempts))
}

func (r *retrying) exec(ctx context.Context, name string, op func() error) error {
	_, err := do(ctx, r, name, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func (r *retrying) Create(ctx context.Context, session *domain.Session) error {
	return r.exec(ctx, "create", func() error { return r.inner.Create(ctx, session) })
}

func (r *retrying) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return do(ctx, r, "get", func() (*domain.Session, error) { return r.inner.Get(ctx, sessionID) })
}

func (r *retrying) UpdateSession(ctx context.Context, session *domain.Session) error {
	return r.exec(ctx, "update_session", func() error { return r.inner.UpdateSession(ctx, session) })
}

// AppendVersion retries transient failures. A mismatch on a retry can mean
// the previous attempt was committed before its reply got lost, so the
// stored version is compared with ours before reporting a mismatch.
func (r *retrying) AppendVersion(ctx context.Context, sessionID string, version domain.ContentVersion, expectedPrior int64) error {
	attempt := 0
	err := r.exec(ctx, "append_version", func() error {
		attempt++
		return r.inner.AppendVersion(ctx, sessionID, version, expectedPrior)
	})
	if attempt > 1 && defError.Is(err, ErrVersionMismatch) && r.committed(ctx, sessionID, version) {
		return nil
	}
	return err
}

func (r *retrying) committed(ctx context.Context, sessionID string, version domain.ContentVersion) bool {
	versions, err := r.inner.ListVersions(ctx, sessionID)
	if err != nil {
		return false
	}
	for _, v := range versions {
		if v.ID == version.ID {
			return v.Content == version.Content && v.EditorID == version.EditorID
		}
	}
	return false
}

func (r *retrying) ListVersions(ctx context.Context, sessionID string) ([]domain.ContentVersion, error) {
	return do(ctx, r, "list_versions", func() ([]domain.ContentVersion, error) { return r.inner.ListVersions(ctx, sessionID) })
}

func (r *retrying) SaveConflict(ctx context.Context, record domain.ConflictRecord) error {
	return r.exec(ctx, "save_conflict", func() error { return r.inner.SaveConflict(ctx, record) })
}

func (r *retrying) ListConflicts(ctx context.Context, sessionID string) ([]domain.ConflictRecord, error) {
	return do(ctx, r, "list_conflicts", func() ([]domain.ConflictRecord, error) { return r.inner.ListConflicts(ctx, sessionID) })
}

func (r *retrying) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	return r.exec(ctx, "save_snapshot", func() error { return r.inner.SaveSnapshot(ctx, snapshot) })
}

func (r *retrying) LatestSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	return do(ctx, r, "latest_snapshot", func() (*domain.Snapshot, error) { return r.inner.LatestSnapshot(ctx, sessionID) })
}

func (r *retrying) Restore(ctx context.Context, snapshot domain.Snapshot) error {
	return r.exec(ctx, "restore", func() error { return r.inner.Restore(ctx, snapshot) })
}

func (r *retrying) ListSessions(ctx context.Context) ([]string, error) {
	return do(ctx, r, "list_sessions", func() ([]string, error) { return r.inner.ListSessions(ctx) })
}
