// Package recovery snapshots sessions, reports their health and rebuilds
// them after a crash.
package recovery

import (
	"context"
	defError "errors"
	"fmt"
	"log"
	"sync"
	"time"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/errors"
	"collaborative-draft-editor/internal/metrics"
	"collaborative-draft-editor/internal/store"
	"collaborative-draft-editor/internal/transform"
	"collaborative-draft-editor/internal/version"
)

// Policy decides when sessions are snapshotted and considered abandoned
type Policy struct {
	// EveryEdits snapshots after this many applied edits, 0 disables
	EveryEdits int
	// Interval snapshots sessions with unsaved edits this long after the
	// previous snapshot, 0 disables
	Interval time.Duration
	// InactivityTimeout marks active sessions without edits as abandoned
	InactivityTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{EveryEdits: 50, Interval: 5 * time.Minute, InactivityTimeout: 24 * time.Hour}
}

type progress struct {
	edits    int
	lastSave time.Time
	degraded bool
}

type Manager struct {
	store    store.DurableStore
	versions *version.Store
	engine   *transform.Engine
	arbiter  transform.Arbiter
	policy   Policy
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*progress
}

func NewManager(durable store.DurableStore, versions *version.Store, engine *transform.Engine, arbiter transform.Arbiter, policy Policy) *Manager {
	return &Manager{
		store:    durable,
		versions: versions,
		engine:   engine,
		arbiter:  arbiter,
		policy:   policy,
		now:      time.Now,
		sessions: make(map[string]*progress),
	}
}

// WithClock replaces the time source, used by tests
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Policy() Policy {
	return m.policy
}

func (m *Manager) progress(sessionID string) *progress {
	p, ok := m.sessions[sessionID]
	if !ok {
		p = &progress{lastSave: m.now()}
		m.sessions[sessionID] = p
	}
	return p
}

// Record counts an applied edit and reports whether a snapshot is due
func (m *Manager) Record(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress(sessionID)
	p.edits++
	return m.policy.EveryEdits > 0 && p.edits >= m.policy.EveryEdits
}

// Due reports whether a session has unsaved edits past either threshold
func (m *Manager) Due(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.sessions[sessionID]
	if !ok || p.edits == 0 {
		return false
	}
	if m.policy.EveryEdits > 0 && p.edits >= m.policy.EveryEdits {
		return true
	}
	return m.policy.Interval > 0 && m.now().Sub(p.lastSave) >= m.policy.Interval
}

// MarkDegraded records whether the last storage write of a session failed
func (m *Manager) MarkDegraded(sessionID string, degraded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress(sessionID).degraded = degraded
}

func (m *Manager) degraded(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.sessions[sessionID]
	return ok && p.degraded
}

// Forget drops the bookkeeping of a session
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Snapshot stores the full session state and history
func (m *Manager) Snapshot(ctx context.Context, session *domain.Session, versions []domain.ContentVersion) error {
	if len(versions) == 0 {
		return errors.InvalidArgument("cannot snapshot a session without versions", nil)
	}
	now := m.now()
	snap := domain.Snapshot{
		SessionID: session.ID,
		VersionID: versions[len(versions)-1].ID,
		Session:   *session.Clone(),
		Versions:  versions,
		TakenAt:   now,
	}
	if err := m.store.SaveSnapshot(ctx, snap); err != nil {
		return errors.StorageFailure("snapshot failed", err)
	}
	metrics.Snapshots.Inc()

	m.mu.Lock()
	p := m.progress(session.ID)
	p.edits = 0
	p.lastSave = now
	m.mu.Unlock()
	return nil
}

// Inspect verifies the structure of a stored history: ids run from 0
// without gaps and the session points at the last one
func Inspect(session *domain.Session, versions []domain.ContentVersion) error {
	if len(versions) == 0 {
		return fmt.Errorf("session %s has no versions", session.ID)
	}
	for i, v := range versions {
		if v.ID != int64(i) {
			return fmt.Errorf("session %s: version %d found at position %d", session.ID, v.ID, i)
		}
	}
	if last := versions[len(versions)-1].ID; session.CurrentVersionID != last {
		return fmt.Errorf("session %s points at version %d, history ends at %d", session.ID, session.CurrentVersionID, last)
	}
	return nil
}

// Abandoned reports whether a session counts as abandoned at now
func (m *Manager) Abandoned(session *domain.Session, now time.Time) bool {
	if session.Status == domain.StatusAbandoned {
		return true
	}
	return session.Status == domain.StatusActive &&
		m.policy.InactivityTimeout > 0 &&
		now.Sub(session.LastActivityAt) > m.policy.InactivityTimeout
}

// HealthCheck reads the durable state of a session and reports its health
func (m *Manager) HealthCheck(ctx context.Context, sessionID string) (domain.Health, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if defError.Is(err, store.ErrNotFound) {
			return domain.Health{}, errors.SessionNotFound(fmt.Sprintf("session %s not found", sessionID), err)
		}
		return domain.Health{}, errors.StorageFailure("load session failed", err)
	}
	versions, err := m.versions.History(ctx, sessionID)
	if err != nil {
		return domain.Health{}, err
	}

	h := domain.Health{
		SessionID:               sessionID,
		Healthy:                 true,
		Status:                  session.Status,
		ActiveCollaboratorCount: len(session.ActiveCollaboratorIDs()),
		LastActivityAt:          session.LastActivityAt,
		VersionCount:            len(versions),
	}
	if n := len(versions); n > 0 {
		h.HasContent = versions[n-1].Content != ""
	}

	switch {
	case Inspect(session, versions) != nil:
		h.Reason = domain.ReasonInconsistent
	case m.degraded(sessionID):
		h.Reason = domain.ReasonDegraded
	case m.Abandoned(session, m.now()):
		h.Reason = domain.ReasonAbandoned
	}
	h.Healthy = h.Reason == domain.ReasonNone
	return h, nil
}

// RecoverFromCrash restores the history of a session to its latest
// snapshot, discarding later versions. Without a snapshot the longest prefix
// of the history that is contiguous and replays cleanly is kept. The roster
// and lifecycle stay as currently stored. The restored state is returned.
func (m *Manager) RecoverFromCrash(ctx context.Context, sessionID string) (*domain.Session, []domain.ContentVersion, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if defError.Is(err, store.ErrNotFound) {
			return nil, nil, errors.SessionNotFound(fmt.Sprintf("session %s not found", sessionID), err)
		}
		return nil, nil, errors.StorageFailure("load session failed", err)
	}
	stored, err := m.store.ListVersions(ctx, sessionID)
	if err != nil {
		return nil, nil, errors.StorageFailure("load history failed", err)
	}

	source := "snapshot"
	var snap domain.Snapshot
	latest, err := m.store.LatestSnapshot(ctx, sessionID)
	switch {
	case err == nil:
		snap = *latest
		snap.Session = *session
	case defError.Is(err, store.ErrNotFound):
		source = "prefix"
		snap = domain.Snapshot{
			SessionID: sessionID,
			Session:   *session,
			Versions:  m.replayablePrefix(session, stored),
		}
		snap.VersionID = snap.Versions[len(snap.Versions)-1].ID
	default:
		return nil, nil, errors.StorageFailure("load snapshot failed", err)
	}
	snap.TakenAt = m.now()

	if lost := len(stored) - len(snap.Versions); lost > 0 {
		log.Printf("[RECOVERY] session %s: restored to version %d from %s, %d later versions discarded",
			sessionID, snap.VersionID, source, lost)
	} else {
		log.Printf("[RECOVERY] session %s: restored to version %d from %s", sessionID, snap.VersionID, source)
	}

	if err := m.store.Restore(ctx, snap); err != nil {
		return nil, nil, errors.StorageFailure("restore failed", err)
	}
	m.versions.Invalidate(ctx, sessionID)
	metrics.Recoveries.WithLabelValues(source).Inc()

	m.mu.Lock()
	p := m.progress(sessionID)
	p.edits = 0
	p.lastSave = m.now()
	p.degraded = false
	m.mu.Unlock()

	restored := snap.Session.Clone()
	restored.CurrentVersionID = snap.VersionID
	return restored, snap.Versions, nil
}

// replayablePrefix keeps versions from 0 while ids are contiguous and the
// content still replays. A missing seed version is recreated empty.
func (m *Manager) replayablePrefix(session *domain.Session, versions []domain.ContentVersion) []domain.ContentVersion {
	n := 0
	for n < len(versions) && versions[n].ID == int64(n) {
		n++
	}
	if n == 0 {
		log.Printf("[RECOVERY] session %s: seed version missing, starting from empty content", session.ID)
		return []domain.ContentVersion{{ID: 0, MediaRefs: []string{}, EditorID: session.OwnerID, AppliedEdits: []domain.ContentEdit{}, Timestamp: session.CreatedAt}}
	}
	for ; n > 1; n-- {
		if _, err := m.engine.Replay(versions[:n], m.arbiter); err == nil {
			break
		}
	}
	return versions[:n]
}

// Sweeper is run on every tick of Run
type Sweeper interface {
	Sweep(ctx context.Context)
}

// Run sweeps until ctx is done. The tick follows the snapshot interval,
// capped so inactivity is noticed within a minute.
func (m *Manager) Run(ctx context.Context, sweeper Sweeper) error {
	tick := time.Minute
	if m.policy.Interval > 0 && m.policy.Interval < tick {
		tick = m.policy.Interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweeper.Sweep(ctx)
		}
	}
}
