package domain

import (
	"fmt"
	"regexp"
	"time"
)

// SessionStatus is the lifecycle state of a collaborative session
type SessionStatus string

const (
	StatusDraft     SessionStatus = "draft"
	StatusActive    SessionStatus = "active"
	StatusPublished SessionStatus = "published"
	StatusArchived  SessionStatus = "archived"
	StatusAbandoned SessionStatus = "abandoned"
)

// Editable reports whether edits and roster changes are accepted in this status
func (s SessionStatus) Editable() bool {
	return s == StatusDraft || s == StatusActive
}

// rank orders the monotonic part of the lifecycle. Abandoned sits beside Active.
func (s SessionStatus) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusActive, StatusAbandoned:
		return 1
	case StatusPublished:
		return 2
	case StatusArchived:
		return 3
	}
	return -1
}

// CanTransition reports whether moving from s to next is a legal lifecycle step
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch {
	case s == next:
		return false
	case s == StatusActive && next == StatusAbandoned:
		return true
	case s == StatusAbandoned && next == StatusActive:
		// only through explicit reactivation
		return true
	case s == StatusAbandoned && next == StatusPublished:
		return false
	case next == StatusAbandoned:
		return false
	}
	return next.rank() > s.rank()
}

// Session is a bounded collaborative editing context
type Session struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"owner_id"`
	Status           SessionStatus  `json:"status"`
	Collaborators    []Collaborator `json:"collaborators"`
	CurrentVersionID int64          `json:"current_version_id"`
	ExternalPostID   string         `json:"external_post_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	LastActivityAt   time.Time      `json:"last_activity_at"`
}

// Collaborator returns the roster entry of userID, or nil
func (s *Session) Collaborator(userID string) *Collaborator {
	for i := range s.Collaborators {
		if s.Collaborators[i].UserID == userID {
			return &s.Collaborators[i]
		}
	}
	return nil
}

// ActiveCollaboratorIDs lists every active member, owner included
func (s *Session) ActiveCollaboratorIDs() []string {
	ids := make([]string, 0, len(s.Collaborators))
	for _, c := range s.Collaborators {
		if c.IsActive {
			ids = append(ids, c.UserID)
		}
	}
	return ids
}

// Clone returns a deep copy, safe to hand out of the session actor
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Collaborators = make([]Collaborator, len(s.Collaborators))
	copy(cp.Collaborators, s.Collaborators)
	return &cp
}

// EditType is the kind of change carried by a ContentEdit
type EditType string

const (
	EditInsert      EditType = "insert"
	EditDelete      EditType = "delete"
	EditReplace     EditType = "replace"
	EditMediaAdd    EditType = "media_add"
	EditMediaRemove EditType = "media_remove"
)

// Valid reports whether t is one of the known edit types
func (t EditType) Valid() bool {
	switch t {
	case EditInsert, EditDelete, EditReplace, EditMediaAdd, EditMediaRemove:
		return true
	}
	return false
}

// ContentEdit is a single user change expressed against BaseVersionID.
// Position and lengths count runes.
type ContentEdit struct {
	ID            string    `json:"id"`
	Type          EditType  `json:"type"`
	Position      int       `json:"position"`
	OldText       string    `json:"old_text,omitempty"`
	NewText       string    `json:"new_text,omitempty"`
	MediaRef      string    `json:"media_ref,omitempty"`
	AuthorID      string    `json:"author_id"`
	BaseVersionID int64     `json:"base_version_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Summary is a short human readable description used in notifications
func (e ContentEdit) Summary() string {
	switch e.Type {
	case EditInsert:
		return fmt.Sprintf("inserted %d characters at %d", len([]rune(e.NewText)), e.Position)
	case EditDelete:
		return fmt.Sprintf("deleted %d characters at %d", len([]rune(e.OldText)), e.Position)
	case EditReplace:
		return fmt.Sprintf("replaced %d characters at %d", len([]rune(e.OldText)), e.Position)
	case EditMediaAdd:
		return fmt.Sprintf("added media %s", e.MediaRef)
	case EditMediaRemove:
		return fmt.Sprintf("removed media %s", e.MediaRef)
	}
	return string(e.Type)
}

// ContentVersion is an immutable, fully materialized snapshot of the content
type ContentVersion struct {
	ID           int64         `json:"id"`
	Content      string        `json:"content"`
	MediaRefs    []string      `json:"media_refs"`
	EditorID     string        `json:"editor_id"`
	AppliedEdits []ContentEdit `json:"applied_edits"`
	SourceEdit   *ContentEdit  `json:"source_edit,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ConflictRecord is the audit entry of one conflict resolution
type ConflictRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	EditIDs      []string  `json:"edit_ids"`
	WinnerEditID string    `json:"winner_edit_id"`
	Resolution   string    `json:"resolution"`
	Timestamp    time.Time `json:"timestamp"`
}

// Snapshot is a full session + history backup
type Snapshot struct {
	SessionID string           `json:"session_id"`
	VersionID int64            `json:"version_id"`
	Session   Session          `json:"session"`
	Versions  []ContentVersion `json:"versions"`
	TakenAt   time.Time        `json:"taken_at"`
}

// HealthReason explains an unhealthy session
type HealthReason string

const (
	ReasonNone         HealthReason = ""
	ReasonAbandoned    HealthReason = "Abandoned"
	ReasonInconsistent HealthReason = "Inconsistent"
	ReasonDegraded     HealthReason = "Degraded"
)

// Health is the result of a session health check
type Health struct {
	SessionID               string        `json:"session_id"`
	Healthy                 bool          `json:"healthy"`
	Reason                  HealthReason  `json:"reason,omitempty"`
	Status                  SessionStatus `json:"status"`
	ActiveCollaboratorCount int           `json:"active_collaborator_count"`
	LastActivityAt          time.Time     `json:"last_activity_at"`
	HasContent              bool          `json:"has_content"`
	VersionCount            int           `json:"version_count"`
}

var mediaMarker = regexp.MustCompile(`\{\{media:([^{}]+)\}\}`)

// MediaMarker is the inline token a media reference occupies in the content
func MediaMarker(ref string) string {
	return "{{media:" + ref + "}}"
}

// MediaRefs lists the media references of content in order of appearance
func MediaRefs(content string) []string {
	refs := []string{}
	for _, m := range mediaMarker.FindAllStringSubmatch(content, -1) {
		refs = append(refs, m[1])
	}
	return refs
}
