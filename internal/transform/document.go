package transform

import (
	"fmt"
	"slices"

	"collaborative-draft-editor/internal/domain"
)

// element is one rune of a session document. Deleted runes stay in the
// sequence as tombstones so that edits composed against older versions can
// still be located.
type element struct {
	r        rune
	stamp    int64 // base version + 1 of the inserting edit, 0 for seed content
	author   string
	editID   string
	seq      int
	added    int64 // version that made the rune visible
	removed  int64 // version that tombstoned the rune, 0 while live
	replaced int64 // latest pruned replace of the rune
}

func (e *element) visibleAt(v int64) bool {
	return e.added <= v && (e.removed == 0 || e.removed > v)
}

// greater reports whether a sits closer to a shared anchor than b.
// Later bases come first, then the lexicographically smaller author, so
// concurrent inserts against the same base are ordered by author id.
func greater(a, b *element) bool {
	if a.stamp != b.stamp {
		return a.stamp > b.stamp
	}
	if a.author != b.author {
		return a.author < b.author
	}
	if a.editID != b.editID {
		return a.editID < b.editID
	}
	return a.seq > b.seq
}

// replacement remembers a committed replace so overlapping concurrent
// replaces can be detected.
type replacement struct {
	edit     domain.ContentEdit
	version  int64
	targets  map[*element]struct{}
	inserted []*element
}

func (r *replacement) overlaps(targets []*element) bool {
	for _, t := range targets {
		if _, ok := r.targets[t]; ok {
			return true
		}
	}
	return false
}

// duplicates reports whether edit replaces exactly the same runes with the
// same text
func (r *replacement) duplicates(edit domain.ContentEdit, targets []*element) bool {
	if r.edit.NewText != edit.NewText || len(r.targets) != len(targets) {
		return false
	}
	for _, t := range targets {
		if _, ok := r.targets[t]; !ok {
			return false
		}
	}
	return true
}

// Document is the transform state of one session. It is not safe for
// concurrent use; the owning session actor serializes access.
type Document struct {
	elems    []*element
	head     int64
	replaces []*replacement
	applied  map[string]int64
}

// NewDocument seeds version 0 with content
func NewDocument(content string) *Document {
	runes := []rune(content)
	d := &Document{elems: make([]*element, len(runes)), applied: make(map[string]int64)}
	for i, r := range runes {
		d.elems[i] = &element{r: r, seq: i}
	}
	return d
}

// Head is the id of the latest committed version
func (d *Document) Head() int64 {
	return d.head
}

// Applied returns the version committed by the edit with id
func (d *Document) Applied(id string) (int64, bool) {
	v, ok := d.applied[id]
	return v, ok
}

// Content renders the latest version
func (d *Document) Content() string {
	return d.ContentAt(d.head)
}

// ContentAt renders the content as it was at version v
func (d *Document) ContentAt(v int64) string {
	out := make([]rune, 0, len(d.elems))
	for _, el := range d.elems {
		if el.visibleAt(v) {
			out = append(out, el.r)
		}
	}
	return string(out)
}

// visible returns the sequence indices of the runes visible at version v
func (d *Document) visible(v int64) []int {
	idx := make([]int, 0, len(d.elems))
	for i, el := range d.elems {
		if el.visibleAt(v) {
			idx = append(idx, i)
		}
	}
	return idx
}

// placement finds where a run whose first rune is first goes after anchor
func (d *Document) placement(anchor int, first *element) int {
	i := anchor + 1
	for i < len(d.elems) && greater(d.elems[i], first) {
		i++
	}
	return i
}

// rivals lists the replaces committed after base that touch any target
func (d *Document) rivals(base int64, targets []*element) []*replacement {
	var rivals []*replacement
	for _, r := range d.replaces {
		if r.version > base && r.overlaps(targets) {
			rivals = append(rivals, r)
		}
	}
	return rivals
}

// prune drops replace records committed at or before floor. Their targets
// remember the version so a later replace that would need the record can
// be refused.
func (d *Document) prune(floor int64) {
	if floor <= 0 {
		return
	}
	d.replaces = slices.DeleteFunc(d.replaces, func(r *replacement) bool {
		if r.version > floor {
			return false
		}
		for t := range r.targets {
			t.replaced = max(t.replaced, r.version)
		}
		return true
	})
}

// EmptyPlan advances the document by one version without changing content
func (d *Document) EmptyPlan() *Plan {
	return &Plan{
		Version:  d.head + 1,
		Base:     d.head,
		Content:  d.Content(),
		insertAt: -1,
	}
}

// Commit applies a plan produced against the current head
func (d *Document) Commit(p *Plan) error {
	if p.Version != d.head+1 {
		return fmt.Errorf("plan for version %d does not follow head %d", p.Version, d.head)
	}
	for el := range p.remove {
		el.removed = p.Version
	}
	if len(p.insert) > 0 {
		d.elems = slices.Insert(d.elems, p.insertAt, p.insert...)
	}
	if p.record != nil {
		d.replaces = append(d.replaces, p.record)
	}
	if p.Edit.ID != "" {
		d.applied[p.Edit.ID] = p.Version
	}
	d.head = p.Version
	return nil
}

// render walks the sequence with the plan overlaid and returns the
// positional edits, applied left to right, plus the resulting content.
func (d *Document) render(p *Plan) ([]domain.ContentEdit, string) {
	out := make([]rune, 0, len(d.elems)+len(p.insert))
	applied := []domain.ContentEdit{}
	var deleting []rune

	flush := func() {
		if len(deleting) == 0 {
			return
		}
		applied = append(applied, p.component(domain.EditDelete, len(out), string(deleting), ""))
		deleting = nil
	}
	emitInsert := func() {
		flush()
		text := make([]rune, len(p.insert))
		for i, el := range p.insert {
			text[i] = el.r
		}
		pos := len(out)
		if n := len(applied); n > 0 && applied[n-1].Type == domain.EditDelete && applied[n-1].Position == pos {
			applied[n-1] = p.component(domain.EditReplace, pos, applied[n-1].OldText, string(text))
		} else {
			applied = append(applied, p.component(domain.EditInsert, pos, "", string(text)))
		}
		out = append(out, text...)
	}

	for i := 0; i <= len(d.elems); i++ {
		if i == p.insertAt && len(p.insert) > 0 {
			emitInsert()
		}
		if i == len(d.elems) {
			break
		}
		el := d.elems[i]
		if el.removed != 0 {
			continue
		}
		if _, gone := p.remove[el]; gone {
			deleting = append(deleting, el.r)
			continue
		}
		flush()
		out = append(out, el.r)
	}
	flush()
	return applied, string(out)
}
