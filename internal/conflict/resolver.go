// Package conflict settles overlapping replaces that rebasing cannot merge.
package conflict

import (
	"fmt"
	"strings"
	"time"

	"collaborative-draft-editor/internal/domain"

	"github.com/google/uuid"
)

// Strategy names the resolution rule recorded on each ConflictRecord
const Strategy = "last-write-wins"

// Resolver applies last-write-wins on the edit timestamp. Equal timestamps
// fall back to the larger author id, then the larger edit id.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Arbitrate returns the winning edit among incoming and rivals
func (r *Resolver) Arbitrate(incoming domain.ContentEdit, rivals []domain.ContentEdit) (domain.ContentEdit, error) {
	winner := incoming
	for _, rival := range rivals {
		if wins(rival, winner) {
			winner = rival
		}
	}
	return winner, nil
}

func wins(a, b domain.ContentEdit) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.AuthorID != b.AuthorID {
		return a.AuthorID > b.AuthorID
	}
	return a.ID > b.ID
}

// Record builds the audit entry of a resolution between incoming and rivals
func Record(sessionID string, incoming domain.ContentEdit, rivals []domain.ContentEdit, winner domain.ContentEdit, now time.Time) domain.ConflictRecord {
	ids := make([]string, 0, len(rivals)+1)
	losers := make([]string, 0, len(rivals))
	for _, e := range append([]domain.ContentEdit{incoming}, rivals...) {
		ids = append(ids, e.ID)
		if e.ID != winner.ID {
			losers = append(losers, e.ID)
		}
	}
	return domain.ConflictRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		EditIDs:      ids,
		WinnerEditID: winner.ID,
		Resolution: fmt.Sprintf("%s: kept %s by %s, dropped overlapping text of %s",
			Strategy, winner.ID, winner.AuthorID, strings.Join(losers, ", ")),
		Timestamp: now,
	}
}

// Authors lists the distinct authors involved in a resolution
func Authors(incoming domain.ContentEdit, rivals []domain.ContentEdit) []string {
	seen := map[string]bool{incoming.AuthorID: true}
	authors := []string{incoming.AuthorID}
	for _, e := range rivals {
		if !seen[e.AuthorID] {
			seen[e.AuthorID] = true
			authors = append(authors, e.AuthorID)
		}
	}
	return authors
}
