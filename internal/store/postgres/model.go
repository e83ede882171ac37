package postgres

import (
	"time"

	"collaborative-draft-editor/internal/domain"
)

// Session is the sessions table. CurrentVersionID is -1 until the seed
// version is appended.
type Session struct {
	ID               string                `gorm:"primaryKey;size:64"`
	OwnerID          string                `gorm:"size:128;not null"`
	Status           string                `gorm:"size:16;not null;index"`
	Collaborators    []domain.Collaborator `gorm:"serializer:json"`
	CurrentVersionID int64                 `gorm:"not null;default:-1"`
	ExternalPostID   string                `gorm:"size:128"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastActivityAt   time.Time
}

type ContentVersion struct {
	SessionID    string               `gorm:"primaryKey;size:64"`
	VersionID    int64                `gorm:"primaryKey;autoIncrement:false"`
	Content      string               `gorm:"type:text"`
	MediaRefs    []string             `gorm:"serializer:json"`
	EditorID     string               `gorm:"size:128"`
	AppliedEdits []domain.ContentEdit `gorm:"serializer:json"`
	SourceEdit   *domain.ContentEdit  `gorm:"serializer:json"`
	CreatedAt    time.Time
}

type ConflictRecord struct {
	ID           string   `gorm:"primaryKey;size:64"`
	SessionID    string   `gorm:"size:64;index"`
	EditIDs      []string `gorm:"serializer:json"`
	WinnerEditID string   `gorm:"size:64"`
	Resolution   string   `gorm:"type:text"`
	CreatedAt    time.Time
}

type SessionSnapshot struct {
	SessionID string          `gorm:"primaryKey;size:64"`
	VersionID int64           `gorm:"primaryKey;autoIncrement:false"`
	Data      domain.Snapshot `gorm:"serializer:json"`
	TakenAt   time.Time
}

// Models lists the tables to migrate
func Models() []any {
	return []any{&Session{}, &ContentVersion{}, &ConflictRecord{}, &SessionSnapshot{}}
}

func sessionRow(s *domain.Session, current int64) *Session {
	return &Session{
		ID:               s.ID,
		OwnerID:          s.OwnerID,
		Status:           string(s.Status),
		Collaborators:    s.Collaborators,
		CurrentVersionID: current,
		ExternalPostID:   s.ExternalPostID,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		LastActivityAt:   s.LastActivityAt,
	}
}

func (r *Session) toDomain() *domain.Session {
	return &domain.Session{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Status:           domain.SessionStatus(r.Status),
		Collaborators:    r.Collaborators,
		CurrentVersionID: max(r.CurrentVersionID, 0),
		ExternalPostID:   r.ExternalPostID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		LastActivityAt:   r.LastActivityAt,
	}
}

func versionRow(sessionID string, v domain.ContentVersion) *ContentVersion {
	return &ContentVersion{
		SessionID:    sessionID,
		VersionID:    v.ID,
		Content:      v.Content,
		MediaRefs:    v.MediaRefs,
		EditorID:     v.EditorID,
		AppliedEdits: v.AppliedEdits,
		SourceEdit:   v.SourceEdit,
		CreatedAt:    v.Timestamp,
	}
}

func (r *ContentVersion) toDomain() domain.ContentVersion {
	return domain.ContentVersion{
		ID:           r.VersionID,
		Content:      r.Content,
		MediaRefs:    r.MediaRefs,
		EditorID:     r.EditorID,
		AppliedEdits: r.AppliedEdits,
		SourceEdit:   r.SourceEdit,
		Timestamp:    r.CreatedAt,
	}
}

func conflictRow(c domain.ConflictRecord) *ConflictRecord {
	return &ConflictRecord{
		ID:           c.ID,
		SessionID:    c.SessionID,
		EditIDs:      c.EditIDs,
		WinnerEditID: c.WinnerEditID,
		Resolution:   c.Resolution,
		CreatedAt:    c.Timestamp,
	}
}

func (r *ConflictRecord) toDomain() domain.ConflictRecord {
	return domain.ConflictRecord{
		ID:           r.ID,
		SessionID:    r.SessionID,
		EditIDs:      r.EditIDs,
		WinnerEditID: r.WinnerEditID,
		Resolution:   r.Resolution,
		Timestamp:    r.CreatedAt,
	}
}
