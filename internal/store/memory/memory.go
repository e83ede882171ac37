// Package memory is a process-local DurableStore used by tests and by
// single-node development setups.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/store"
)

type record struct {
	session   *domain.Session
	versions  []domain.ContentVersion
	conflicts []domain.ConflictRecord
	snapshots []domain.Snapshot
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
}

func New() *Store {
	return &Store{sessions: make(map[string]*record)}
}

var _ store.DurableStore = (*Store)(nil)

func (s *Store) lookup(id string) (*record, error) {
	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s: %w", session.ID, store.ErrAlreadyExists)
	}
	s.sessions[session.ID] = &record{session: session.Clone()}
	return nil
}

func (s *Store) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return rec.session.Clone(), nil
}

func (s *Store) UpdateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(session.ID)
	if err != nil {
		return err
	}
	cp := session.Clone()
	// the version pointer only moves through AppendVersion
	cp.CurrentVersionID = rec.session.CurrentVersionID
	rec.session = cp
	return nil
}

func (s *Store) AppendVersion(_ context.Context, sessionID string, version domain.ContentVersion, expectedPrior int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	last := int64(-1)
	if n := len(rec.versions); n > 0 {
		last = rec.versions[n-1].ID
	}
	if last != expectedPrior || version.ID != expectedPrior+1 {
		return fmt.Errorf("session %s at %d, append %d after %d: %w", sessionID, last, version.ID, expectedPrior, store.ErrVersionMismatch)
	}
	rec.versions = append(rec.versions, cloneVersion(version))
	rec.session.CurrentVersionID = version.ID
	return nil
}

func (s *Store) ListVersions(_ context.Context, sessionID string) ([]domain.ContentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ContentVersion, len(rec.versions))
	for i, v := range rec.versions {
		out[i] = cloneVersion(v)
	}
	return out, nil
}

func (s *Store) SaveConflict(_ context.Context, conflict domain.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(conflict.SessionID)
	if err != nil {
		return err
	}
	conflict.EditIDs = slices.Clone(conflict.EditIDs)
	rec.conflicts = append(rec.conflicts, conflict)
	return nil
}

func (s *Store) ListConflicts(_ context.Context, sessionID string) ([]domain.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rec.conflicts), nil
}

func (s *Store) SaveSnapshot(_ context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(snapshot.SessionID)
	if err != nil {
		return err
	}
	rec.snapshots = append(rec.snapshots, cloneSnapshot(snapshot))
	return nil
}

func (s *Store) LatestSnapshot(_ context.Context, sessionID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if len(rec.snapshots) == 0 {
		return nil, fmt.Errorf("snapshot of %s: %w", sessionID, store.ErrNotFound)
	}
	snap := cloneSnapshot(rec.snapshots[len(rec.snapshots)-1])
	return &snap, nil
}

func (s *Store) Restore(_ context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(snapshot.SessionID)
	if err != nil {
		return err
	}
	snap := cloneSnapshot(snapshot)
	rec.session = snap.Session.Clone()
	rec.session.CurrentVersionID = snap.VersionID
	rec.versions = snap.Versions
	return nil
}

func (s *Store) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Corrupt overwrites the stored history of a session without any checks.
// It simulates a partially applied write in recovery tests.
func (s *Store) Corrupt(sessionID string, versions []domain.ContentVersion, current int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok {
		rec.versions = versions
		rec.session.CurrentVersionID = current
	}
}

func cloneVersion(v domain.ContentVersion) domain.ContentVersion {
	v.MediaRefs = slices.Clone(v.MediaRefs)
	v.AppliedEdits = slices.Clone(v.AppliedEdits)
	if v.SourceEdit != nil {
		e := *v.SourceEdit
		v.SourceEdit = &e
	}
	return v
}

func cloneSnapshot(s domain.Snapshot) domain.Snapshot {
	s.Session = *s.Session.Clone()
	versions := make([]domain.ContentVersion, len(s.Versions))
	for i, v := range s.Versions {
		versions[i] = cloneVersion(v)
	}
	s.Versions = versions
	return s
}
