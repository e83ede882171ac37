// Package transform rebases concurrent edits of a session document so that
// every arrival order converges to the same content.
package transform

import (
	defError "errors"
	"fmt"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/errors"
)

// ErrInconsistent is returned by Replay when stored versions cannot be
// reproduced from their edits.
var ErrInconsistent = defError.New("transform: history does not reproduce stored content")

// Arbiter decides between overlapping replaces that the transform rules
// cannot merge. It returns the winning edit.
type Arbiter interface {
	Arbitrate(incoming domain.ContentEdit, rivals []domain.ContentEdit) (domain.ContentEdit, error)
}

// Conflict describes an arbitration that happened while planning an edit
type Conflict struct {
	Incoming domain.ContentEdit
	Rivals   []domain.ContentEdit
	Winner   domain.ContentEdit
}

// Plan is the outcome of rebasing one edit. Nothing changes until the
// plan is committed to the document it was computed against.
type Plan struct {
	Version  int64
	Base     int64
	Edit     domain.ContentEdit
	Applied  []domain.ContentEdit
	Content  string
	Conflict *Conflict

	remove   map[*element]struct{}
	insertAt int
	insert   []*element
	record   *replacement
}

// Empty reports whether the plan leaves the content unchanged
func (p *Plan) Empty() bool {
	return len(p.Applied) == 0
}

func (p *Plan) component(kind domain.EditType, pos int, oldText, newText string) domain.ContentEdit {
	c := domain.ContentEdit{
		ID:            p.Edit.ID,
		Type:          kind,
		Position:      pos,
		OldText:       oldText,
		NewText:       newText,
		AuthorID:      p.Edit.AuthorID,
		BaseVersionID: p.Version - 1,
		Timestamp:     p.Edit.Timestamp,
	}
	switch {
	case p.Edit.Type == domain.EditMediaAdd && kind == domain.EditInsert:
		c.Type = domain.EditMediaAdd
		c.MediaRef = p.Edit.MediaRef
	case p.Edit.Type == domain.EditMediaRemove && kind == domain.EditDelete && oldText == p.Edit.OldText:
		c.Type = domain.EditMediaRemove
		c.MediaRef = p.Edit.MediaRef
	}
	return c
}

// Engine holds the rebasing policy shared by all sessions
type Engine struct {
	// RebaseWindow is how many versions replace records are kept for. A
	// replace lagging further behind is refused only when it overlaps a
	// replace whose record was dropped. Zero keeps every record.
	RebaseWindow int64
}

func NewEngine(rebaseWindow int64) *Engine {
	return &Engine{RebaseWindow: rebaseWindow}
}

// Normalize validates an edit and fills the text of media edits
func Normalize(edit domain.ContentEdit) (domain.ContentEdit, error) {
	if !edit.Type.Valid() {
		return edit, errors.InvalidEdit(fmt.Sprintf("unknown edit type %q", edit.Type), nil)
	}
	if edit.Position < 0 {
		return edit, errors.InvalidEdit("position must not be negative", nil)
	}
	if edit.ID == "" || edit.AuthorID == "" {
		return edit, errors.InvalidEdit("edit id and author are required", nil)
	}

	switch edit.Type {
	case domain.EditInsert:
		if edit.NewText == "" || edit.OldText != "" {
			return edit, errors.InvalidEdit("insert carries new text only", nil)
		}
	case domain.EditDelete:
		if edit.OldText == "" || edit.NewText != "" {
			return edit, errors.InvalidEdit("delete carries old text only", nil)
		}
	case domain.EditReplace:
		if edit.OldText == "" {
			return edit, errors.InvalidEdit("replace needs the text it replaces", nil)
		}
	case domain.EditMediaAdd:
		if edit.MediaRef == "" || edit.OldText != "" {
			return edit, errors.InvalidEdit("media add needs a media ref", nil)
		}
		edit.NewText = domain.MediaMarker(edit.MediaRef)
	case domain.EditMediaRemove:
		if edit.MediaRef == "" || edit.NewText != "" {
			return edit, errors.InvalidEdit("media remove needs a media ref", nil)
		}
		edit.OldText = domain.MediaMarker(edit.MediaRef)
	}
	return edit, nil
}

// fits checks that edit applies to the content of version v
func (d *Document) fits(v int64, edit domain.ContentEdit) error {
	content := []rune(d.ContentAt(v))
	old := []rune(edit.OldText)
	if edit.Position > len(content) || edit.Position+len(old) > len(content) {
		return fmt.Errorf("range [%d,%d) outside content of version %d", edit.Position, edit.Position+len(old), v)
	}
	if string(content[edit.Position:edit.Position+len(old)]) != edit.OldText {
		return fmt.Errorf("old text does not match version %d at %d", v, edit.Position)
	}
	return nil
}

func check(doc *Document, edit domain.ContentEdit) error {
	base := edit.BaseVersionID
	if base < 0 || base > doc.head {
		return errors.VersionNotFound(fmt.Sprintf("base version %d is unknown", base), nil)
	}
	if v, ok := doc.applied[edit.ID]; ok {
		return errors.InvalidEdit(fmt.Sprintf("edit %s was already applied as version %d", edit.ID, v), nil)
	}
	if err := doc.fits(base, edit); err != nil {
		return errors.InvalidEdit("edit does not apply to its base version", err)
	}
	return nil
}

// settle compares a replace with every concurrent replace overlapping it.
// Replacement text stays visible only while no overlapping replace beats
// it: the plan hides the text of every rival the edit beats and keeps its
// own text only when it beats them all.
func settle(plan *Plan, targets []*element, rivals []*replacement, arbiter Arbiter) (bool, error) {
	keep := true
	var contested []domain.ContentEdit
	for _, r := range rivals {
		winner, err := arbiter.Arbitrate(plan.Edit, []domain.ContentEdit{r.edit})
		if err != nil {
			return false, errors.TransformConflict("conflict resolution failed", err)
		}
		if winner.ID == plan.Edit.ID {
			for _, el := range r.inserted {
				if el.removed == 0 {
					plan.remove[el] = struct{}{}
				}
			}
		} else {
			keep = false
		}
		if !r.duplicates(plan.Edit, targets) {
			contested = append(contested, r.edit)
		}
	}
	if len(contested) > 0 {
		winner, err := arbiter.Arbitrate(plan.Edit, contested)
		if err != nil {
			return false, errors.TransformConflict("conflict resolution failed", err)
		}
		plan.Conflict = &Conflict{Incoming: plan.Edit, Rivals: contested, Winner: winner}
	}
	return keep, nil
}

// Rebase plans edit against every version committed after its base.
// Positions are resolved as they were at the base version and carried to
// the head through the document's tombstones: inserts concurrent with a
// delete survive at the deletion start, overlapping deletes collapse, and
// concurrent inserts at one position are ordered by author id. Overlapping
// concurrent replaces go to the arbiter.
func (e *Engine) Rebase(doc *Document, edit domain.ContentEdit, arbiter Arbiter) (*Plan, error) {
	edit, err := Normalize(edit)
	if err != nil {
		return nil, err
	}
	if err := check(doc, edit); err != nil {
		return nil, err
	}
	base := edit.BaseVersionID
	if e.RebaseWindow > 0 {
		doc.prune(doc.head - e.RebaseWindow)
	}

	oldRunes := []rune(edit.OldText)
	newRunes := []rune(edit.NewText)
	vis := doc.visible(base)

	targets := make([]*element, len(oldRunes))
	for i := range oldRunes {
		targets[i] = doc.elems[vis[edit.Position+i]]
	}
	anchor := -1
	if edit.Position > 0 {
		anchor = vis[edit.Position-1]
	}

	plan := &Plan{
		Version:  doc.head + 1,
		Base:     base,
		Edit:     edit,
		remove:   make(map[*element]struct{}),
		insertAt: -1,
	}
	for _, t := range targets {
		if t.removed == 0 {
			plan.remove[t] = struct{}{}
		}
	}

	keepInsert := len(newRunes) > 0
	replacing := len(oldRunes) > 0 && len(newRunes) > 0
	if replacing {
		for _, t := range targets {
			if t.replaced > base {
				return nil, errors.StaleBaseVersion(
					fmt.Sprintf("base version %d overlaps a replace older than the retained window", base), nil)
			}
		}
		if rivals := doc.rivals(base, targets); len(rivals) > 0 {
			if arbiter == nil {
				return nil, errors.TransformConflict("overlapping replace needs a resolver", nil)
			}
			if keepInsert, err = settle(plan, targets, rivals, arbiter); err != nil {
				return nil, err
			}
		}
	}

	if keepInsert {
		plan.insert = make([]*element, len(newRunes))
		for i, r := range newRunes {
			plan.insert[i] = &element{
				r:      r,
				stamp:  base + 1,
				author: edit.AuthorID,
				editID: edit.ID,
				seq:    i,
				added:  plan.Version,
			}
		}
		plan.insertAt = doc.placement(anchor, plan.insert[0])
	}

	if replacing {
		set := make(map[*element]struct{}, len(targets))
		for _, t := range targets {
			set[t] = struct{}{}
		}
		plan.record = &replacement{edit: edit, version: plan.Version, targets: set, inserted: plan.insert}
	}

	plan.Applied, plan.Content = doc.render(plan)
	return plan, nil
}

// Replay rebuilds a document from a stored history. Every version must be
// reproduced exactly, otherwise ErrInconsistent is returned.
func (e *Engine) Replay(versions []domain.ContentVersion, arbiter Arbiter) (*Document, error) {
	if len(versions) == 0 || versions[0].ID != 0 {
		return nil, fmt.Errorf("%w: history must start at version 0", ErrInconsistent)
	}
	doc := NewDocument(versions[0].Content)
	for _, v := range versions[1:] {
		var plan *Plan
		if v.SourceEdit == nil {
			plan = doc.EmptyPlan()
		} else {
			var err error
			plan, err = e.Rebase(doc, *v.SourceEdit, arbiter)
			if err != nil {
				return nil, fmt.Errorf("%w: version %d: %v", ErrInconsistent, v.ID, err)
			}
		}
		if plan.Version != v.ID || plan.Content != v.Content {
			return nil, fmt.Errorf("%w: version %d", ErrInconsistent, v.ID)
		}
		if err := doc.Commit(plan); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Apply runs positional edits in order against content. It is the replay
// check for AppliedEdits, which must reproduce each stored version.
func Apply(content string, edits []domain.ContentEdit) (string, error) {
	runes := []rune(content)
	for _, ed := range edits {
		old := []rune(ed.OldText)
		if ed.Position < 0 || ed.Position+len(old) > len(runes) {
			return "", fmt.Errorf("edit %s out of bounds at %d", ed.ID, ed.Position)
		}
		if string(runes[ed.Position:ed.Position+len(old)]) != ed.OldText {
			return "", fmt.Errorf("edit %s old text mismatch at %d", ed.ID, ed.Position)
		}
		next := make([]rune, 0, len(runes)-len(old)+len([]rune(ed.NewText)))
		next = append(next, runes[:ed.Position]...)
		next = append(next, []rune(ed.NewText)...)
		next = append(next, runes[ed.Position+len(old):]...)
		runes = next
	}
	return string(runes), nil
}

// Diff returns the single replace turning from into to, trimming the
// common prefix and suffix. Both texts are empty when they are equal.
func Diff(from, to string) (pos int, oldText, newText string) {
	a, b := []rune(from), []rune(to)
	for pos < len(a) && pos < len(b) && a[pos] == b[pos] {
		pos++
	}
	endA, endB := len(a), len(b)
	for endA > pos && endB > pos && a[endA-1] == b[endB-1] {
		endA--
		endB--
	}
	return pos, string(a[pos:endA]), string(b[pos:endB])
}
