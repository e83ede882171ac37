// Package postgres is a DurableStore on Postgres through gorm.
package postgres

import (
	"context"
	defError "errors"
	"fmt"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

var _ store.DurableStore = (*Repository)(nil)

// NewRepository expects a connection opened with TranslateError so
// duplicate keys surface as gorm.ErrDuplicatedKey
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case defError.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	case defError.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, store.ErrAlreadyExists)
	case store.Permanent(err):
		return err
	}
	return fmt.Errorf("%s: %w: %v", what, store.ErrUnavailable, err)
}

func (r *Repository) exists(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&Session{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, session *domain.Session) error {
	err := r.db.WithContext(ctx).Create(sessionRow(session, -1)).Error
	return translate(err, "session "+session.ID)
}

func (r *Repository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var row Session
	if err := r.db.WithContext(ctx).First(&row, "id = ?", sessionID).Error; err != nil {
		return nil, translate(err, "session "+sessionID)
	}
	return row.toDomain(), nil
}

// UpdateSession writes everything but the version pointer
func (r *Repository) UpdateSession(ctx context.Context, session *domain.Session) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", session.ID).
		Select("owner_id", "status", "collaborators", "external_post_id", "updated_at", "last_activity_at").
		Updates(sessionRow(session, 0))
	if res.Error == nil && res.RowsAffected == 0 {
		res.Error = gorm.ErrRecordNotFound
	}
	return translate(res.Error, "session "+session.ID)
}

func (r *Repository) AppendVersion(ctx context.Context, sessionID string, version domain.ContentVersion, expectedPrior int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if version.ID != expectedPrior+1 {
			return store.ErrVersionMismatch
		}
		// compare and advance the pointer, then write the version row
		res := tx.Model(&Session{}).
			Where("id = ? AND current_version_id = ?", sessionID, expectedPrior).
			Update("current_version_id", version.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := r.exists(tx, sessionID); err != nil {
				return err
			}
			return store.ErrVersionMismatch
		}
		return tx.Create(versionRow(sessionID, version)).Error
	})
	if defError.Is(err, gorm.ErrDuplicatedKey) {
		err = store.ErrVersionMismatch
	}
	return translate(err, "session "+sessionID)
}

func (r *Repository) ListVersions(ctx context.Context, sessionID string) ([]domain.ContentVersion, error) {
	db := r.db.WithContext(ctx)
	if err := r.exists(db, sessionID); err != nil {
		return nil, translate(err, "session "+sessionID)
	}
	var rows []ContentVersion
	if err := db.Where("session_id = ?", sessionID).Order("version_id ASC").Find(&rows).Error; err != nil {
		return nil, translate(err, "versions of "+sessionID)
	}
	versions := make([]domain.ContentVersion, len(rows))
	for i := range rows {
		versions[i] = rows[i].toDomain()
	}
	return versions, nil
}

func (r *Repository) SaveConflict(ctx context.Context, record domain.ConflictRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.exists(tx, record.SessionID); err != nil {
			return err
		}
		return tx.Create(conflictRow(record)).Error
	})
	return translate(err, "conflict "+record.ID)
}

func (r *Repository) ListConflicts(ctx context.Context, sessionID string) ([]domain.ConflictRecord, error) {
	db := r.db.WithContext(ctx)
	if err := r.exists(db, sessionID); err != nil {
		return nil, translate(err, "session "+sessionID)
	}
	var rows []ConflictRecord
	if err := db.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, translate(err, "conflicts of "+sessionID)
	}
	records := make([]domain.ConflictRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toDomain()
	}
	return records, nil
}

func (r *Repository) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.exists(tx, snapshot.SessionID); err != nil {
			return err
		}
		row := &SessionSnapshot{SessionID: snapshot.SessionID, VersionID: snapshot.VersionID, Data: snapshot, TakenAt: snapshot.TakenAt}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	})
	return translate(err, "snapshot of "+snapshot.SessionID)
}

func (r *Repository) LatestSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	var row SessionSnapshot
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("version_id DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err, "snapshot of "+sessionID)
	}
	return &row.Data, nil
}

func (r *Repository) Restore(ctx context.Context, snapshot domain.Snapshot) error {
	id := snapshot.SessionID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.exists(tx, id); err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&ContentVersion{}).Error; err != nil {
			return err
		}
		for _, v := range snapshot.Versions {
			if err := tx.Create(versionRow(id, v)).Error; err != nil {
				return err
			}
		}
		return tx.Model(&Session{}).Where("id = ?", id).
			Select("*").
			Updates(sessionRow(&snapshot.Session, snapshot.VersionID)).Error
	})
	return translate(err, "restore "+id)
}

func (r *Repository) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Session{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, translate(err, "sessions")
}
