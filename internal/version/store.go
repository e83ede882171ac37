// Package version is the append-only history of session content.
package version

import (
	"context"
	defError "errors"
	"fmt"
	"time"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/errors"
	"collaborative-draft-editor/internal/store"
	"collaborative-draft-editor/redis"
)

const historyTTL = 24 * time.Hour

type Store struct {
	durable store.DurableStore
	cache   *redis.Cache
}

func NewStore(durable store.DurableStore, cache *redis.Cache) *Store {
	return &Store{durable: durable, cache: cache}
}

func generationKey(sessionID string) string {
	return fmt.Sprintf("session:%s:versions:version", sessionID)
}

// storageError maps durable store failures onto the engine's error kinds
func storageError(sessionID string, err error) error {
	switch {
	case err == nil:
		return nil
	case defError.Is(err, store.ErrNotFound):
		return errors.SessionNotFound(fmt.Sprintf("session %s not found", sessionID), err)
	case defError.Is(err, store.ErrVersionMismatch):
		return errors.StorageFailure("version history moved concurrently", err)
	}
	return errors.StorageFailure("durable store unavailable", err)
}

// Append stores v as the next version. It fails unless v.ID is exactly one
// past the latest stored version.
func (s *Store) Append(ctx context.Context, sessionID string, v domain.ContentVersion) error {
	if v.ID < 0 {
		return errors.InvalidArgument("version id must not be negative", nil)
	}
	if err := s.durable.AppendVersion(ctx, sessionID, v, v.ID-1); err != nil {
		return storageError(sessionID, err)
	}
	s.cache.IncrementVersion(ctx, generationKey(sessionID))
	return nil
}

// History returns every version in id order
func (s *Store) History(ctx context.Context, sessionID string) ([]domain.ContentVersion, error) {
	gen := s.cache.GetVersion(ctx, generationKey(sessionID))
	cacheKey := fmt.Sprintf("versions:s:%s:v:%d", sessionID, gen)

	var versions []domain.ContentVersion
	if found, _ := s.cache.Get(ctx, cacheKey, &versions); found {
		return versions, nil
	}

	versions, err := s.durable.ListVersions(ctx, sessionID)
	if err != nil {
		return nil, storageError(sessionID, err)
	}
	go s.cache.Set(context.Background(), cacheKey, versions, historyTTL)
	return versions, nil
}

// Get returns one version of a session
func (s *Store) Get(ctx context.Context, sessionID string, versionID int64) (*domain.ContentVersion, error) {
	versions, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if versionID >= 0 && versionID < int64(len(versions)) && versions[versionID].ID == versionID {
		v := versions[versionID]
		return &v, nil
	}
	for i := range versions {
		if versions[i].ID == versionID {
			return &versions[i], nil
		}
	}
	return nil, errors.VersionNotFound(fmt.Sprintf("version %d of session %s not found", versionID, sessionID), nil)
}

// Invalidate drops cached history, used after a restore rewrote it
func (s *Store) Invalidate(ctx context.Context, sessionID string) {
	s.cache.IncrementVersion(ctx, generationKey(sessionID))
}

// Page is one page of version history, newest first
type Page struct {
	Data []domain.ContentVersion `json:"data"`
	Meta PageMeta                `json:"meta"`
}

type PageMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

// Paginate slices versions newest first
func Paginate(versions []domain.ContentVersion, page, perPage int) Page {
	total := len(versions)
	out := Page{
		Data: []domain.ContentVersion{},
		Meta: PageMeta{
			Total:       int64(total),
			CurrentPage: page,
			PerPage:     perPage,
			TotalPage:   (total + perPage - 1) / perPage,
		},
	}
	start := (page - 1) * perPage
	for i := total - 1 - start; i >= 0 && i > total-1-start-perPage; i-- {
		out.Data = append(out.Data, versions[i])
	}
	return out
}
