package crdt

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evcraddock/automark/internal/bookmark"
)

// register is a last-writer-wins cell for one scalar field. Which value
// member is meaningful depends on the field.
type register struct {
	clock uint64
	actor string
	str   *string
	tm    *time.Time
	num   *int
}

func (r *register) set(c *Change) {
	if r.clock != 0 && !newer(c.Clock, c.Actor, r.clock, r.actor) {
		return
	}
	r.clock = c.Clock
	r.actor = c.Actor
	r.str = c.Op.Str
	r.tm = c.Op.Time
	r.num = c.Op.Int
}

// tagReg is a per-tag add/remove register. Concurrent additions of
// different tags union; add vs remove of the same tag resolves on
// (clock, actor) like any scalar.
type tagReg struct {
	present bool
	clock   uint64
	actor   string
}

// noteEntry holds one note plus the causal position of its insertion.
// removed is a per-note tombstone: a removed note id never comes back.
type noteEntry struct {
	note    bookmark.Note
	clock   uint64
	actor   string
	removed bool
}

// entity is the merged state of one bookmark. createSeen is false while
// only cross-actor edits have arrived for an id whose create change has
// not; such entities are invisible to snapshots until the create lands.
type entity struct {
	id             string
	url            string
	bookmarkedDate time.Time
	createSeen     bool
	deleted        bool

	fields map[Field]*register
	tags   map[string]*tagReg
	notes  map[string]*noteEntry
}

func newEntity(id string) *entity {
	return &entity{
		id:     id,
		fields: make(map[Field]*register),
		tags:   make(map[string]*tagReg),
		notes:  make(map[string]*noteEntry),
	}
}

func (e *entity) register(f Field) *register {
	r, ok := e.fields[f]
	if !ok {
		r = &register{}
		e.fields[f] = r
	}
	return r
}

func (e *entity) clone() *entity {
	c := newEntity(e.id)
	c.url = e.url
	c.bookmarkedDate = e.bookmarkedDate
	c.createSeen = e.createSeen
	c.deleted = e.deleted
	for f, r := range e.fields {
		cp := *r
		c.fields[f] = &cp
	}
	for t, r := range e.tags {
		cp := *r
		c.tags[t] = &cp
	}
	for id, n := range e.notes {
		cp := *n
		c.notes[id] = &cp
	}
	return c
}

// MergeSummary reports the entity-level effect of a merged batch. It is
// the only conflict information exposed to callers.
type MergeSummary struct {
	Added   int
	Changed int
	Deleted int
}

// Document is the versioned CRDT document: merged entity state plus the
// append-only causal change log. All mutations are serialized through
// one mutex, the document's single logical mutation queue.
type Document struct {
	mu    sync.Mutex
	actor string
	log   []*Change
	vv    map[string]uint64
	clock uint64
	state map[string]*entity
}

// NewDocument creates an empty document owned by the given actor id.
func NewDocument(actor string) *Document {
	return &Document{
		actor: actor,
		vv:    make(map[string]uint64),
		state: make(map[string]*entity),
	}
}

// Actor returns the durable actor id stamped on local changes.
func (d *Document) Actor() string { return d.actor }

// ApplyLocal validates a mutation, appends it to the causal history
// stamped with this replica's actor id and next sequence number, and
// applies it to the in-memory state. It returns the id of the new
// change, which serves as the document version identifier.
func (d *Document) ApplyLocal(op Op) (ChangeID, error) {
	if err := validateOp(&op); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock++
	c := &Change{
		Actor: d.actor,
		Seq:   d.vv[d.actor] + 1,
		Clock: d.clock,
		Op:    op,
	}
	if err := applyChange(d.state, c); err != nil {
		return "", err
	}
	d.log = append(d.log, c)
	d.vv[d.actor] = c.Seq
	return c.ID(), nil
}

// applyChange folds one change into entity state. Changes for the same
// actor must arrive in sequence order; cross-actor order is irrelevant
// because every operation commutes under the merge rules.
func applyChange(state map[string]*entity, c *Change) error {
	e, ok := state[c.Op.BookmarkID]
	if !ok {
		e = newEntity(c.Op.BookmarkID)
		state[c.Op.BookmarkID] = e
	}

	switch c.Op.Kind {
	case OpCreate:
		if e.createSeen {
			return nil // ids are unique per creator; duplicate create is a replay
		}
		e.createSeen = true
		e.url = c.Op.URL
		e.bookmarkedDate = c.Op.BookmarkedDate
		title := c.Op.Title
		e.register(FieldTitle).set(&Change{
			Actor: c.Actor, Clock: c.Clock,
			Op: Op{Str: &title},
		})
		status := string(bookmark.StatusUnread)
		st := e.register(FieldStatus)
		if st.clock == 0 {
			st.str = &status
		}
	case OpSet:
		e.register(c.Op.Field).set(c)
	case OpAddTag, OpRemoveTag:
		r, ok := e.tags[c.Op.Tag]
		if !ok {
			r = &tagReg{}
			e.tags[c.Op.Tag] = r
		}
		if r.clock != 0 && !newer(c.Clock, c.Actor, r.clock, r.actor) {
			return nil
		}
		r.clock = c.Clock
		r.actor = c.Actor
		r.present = c.Op.Kind == OpAddTag
	case OpAddNote:
		if _, ok := e.notes[c.Op.Note.ID]; ok {
			return nil // idempotent on note id
		}
		e.notes[c.Op.Note.ID] = &noteEntry{
			note:  *c.Op.Note,
			clock: c.Clock,
			actor: c.Actor,
		}
	case OpRemoveNote:
		n, ok := e.notes[c.Op.NoteID]
		if !ok {
			// tombstone ahead of the insertion so a late add stays dead
			n = &noteEntry{note: bookmark.Note{ID: c.Op.NoteID}}
			e.notes[c.Op.NoteID] = n
		}
		n.removed = true
	case OpDelete:
		e.deleted = true
	default:
		return fmt.Errorf("%w: unknown op kind %d", ErrMalformedChange, c.Op.Kind)
	}
	return nil
}

// Merge applies a batch of remote changes transactionally: the batch is
// validated and applied to a staged copy of the state, which replaces
// the live state only if every change succeeds. Changes this document
// already holds are skipped. A malformed batch (bad structure, or a
// sequence gap implying missing causal history) rejects the whole batch
// and leaves the document exactly as it was.
func (d *Document) Merge(changes []*Change) (MergeSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var summary MergeSummary
	if len(changes) == 0 {
		return summary, nil
	}

	for _, c := range changes {
		if err := validateChange(c); err != nil {
			return summary, err
		}
	}

	// Keep only changes we do not have, grouped per actor in seq order.
	fresh := make(map[string][]*Change)
	seen := make(map[ChangeID]bool)
	for _, c := range changes {
		if seen[c.ID()] {
			continue
		}
		seen[c.ID()] = true
		if c.Seq <= d.vv[c.Actor] {
			continue
		}
		fresh[c.Actor] = append(fresh[c.Actor], c)
	}

	actors := make([]string, 0, len(fresh))
	for a := range fresh {
		actors = append(actors, a)
	}
	sort.Strings(actors)

	var ordered []*Change
	for _, a := range actors {
		batch := fresh[a]
		sort.Slice(batch, func(i, j int) bool { return batch[i].Seq < batch[j].Seq })
		next := d.vv[a] + 1
		for _, c := range batch {
			if c.Seq != next {
				return summary, fmt.Errorf("%w: sequence gap for actor %s (have %d, got %d)",
					ErrMalformedChange, a, next-1, c.Seq)
			}
			next++
		}
		ordered = append(ordered, batch...)
	}
	if len(ordered) == 0 {
		return summary, nil
	}

	// Stage on a copy so a mid-batch failure cannot leave partial state.
	staged := make(map[string]*entity, len(d.state))
	for id, e := range d.state {
		staged[id] = e.clone()
	}

	added := make(map[string]bool)
	changed := make(map[string]bool)
	deleted := make(map[string]bool)
	for _, c := range ordered {
		before := staged[c.Op.BookmarkID]
		wasDeleted := before != nil && before.deleted
		if err := applyChange(staged, c); err != nil {
			return MergeSummary{}, err
		}
		switch c.Op.Kind {
		case OpCreate:
			added[c.Op.BookmarkID] = true
		case OpDelete:
			if !wasDeleted {
				deleted[c.Op.BookmarkID] = true
			}
		default:
			changed[c.Op.BookmarkID] = true
		}
	}

	d.state = staged
	d.log = append(d.log, ordered...)
	for _, c := range ordered {
		if c.Seq > d.vv[c.Actor] {
			d.vv[c.Actor] = c.Seq
		}
		if c.Clock > d.clock {
			d.clock = c.Clock
		}
	}

	for id := range added {
		delete(changed, id)
	}
	for id := range deleted {
		delete(changed, id)
	}
	summary.Added = len(added)
	summary.Changed = len(changed)
	summary.Deleted = len(deleted)
	return summary, nil
}

// Changes returns a copy of the full causal change log, used by the
// persistence layer.
func (d *Document) Changes() []*Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Change, len(d.log))
	copy(out, d.log)
	return out
}

// Load rebuilds a document from a persisted change log.
func Load(actor string, changes []*Change) (*Document, error) {
	d := NewDocument(actor)
	if _, err := d.Merge(changes); err != nil {
		return nil, err
	}
	return d, nil
}

// Snapshot returns the materialized, tombstone-free projection of the
// document, sorted by bookmarked date with an id tie-break.
func (d *Document) Snapshot() []bookmark.Bookmark {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]bookmark.Bookmark, 0, len(d.state))
	for _, e := range d.state {
		if b := materialize(e); b != nil {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BookmarkedDate.Equal(out[j].BookmarkedDate) {
			return out[i].BookmarkedDate.Before(out[j].BookmarkedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get materializes a single bookmark. It returns false for unknown and
// for tombstoned ids alike.
func (d *Document) Get(id string) (*bookmark.Bookmark, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.state[id]
	if !ok {
		return nil, false
	}
	b := materialize(e)
	if b == nil {
		return nil, false
	}
	return b, true
}

func materialize(e *entity) *bookmark.Bookmark {
	if !e.createSeen || e.deleted {
		return nil
	}
	b := &bookmark.Bookmark{
		ID:             e.id,
		URL:            e.url,
		BookmarkedDate: e.bookmarkedDate,
		ReadingStatus:  bookmark.StatusUnread,
	}
	if r, ok := e.fields[FieldTitle]; ok && r.str != nil {
		b.Title = *r.str
	}
	if r, ok := e.fields[FieldAuthor]; ok && r.str != nil {
		b.Author = *r.str
	}
	if r, ok := e.fields[FieldStatus]; ok && r.str != nil {
		b.ReadingStatus = bookmark.ReadingStatus(*r.str)
	}
	if r, ok := e.fields[FieldPublishDate]; ok && r.tm != nil {
		t := *r.tm
		b.PublishDate = &t
	}
	if r, ok := e.fields[FieldPriority]; ok && r.num != nil {
		p := *r.num
		b.PriorityRating = &p
	}

	for tag, r := range e.tags {
		if r.present {
			b.Tags = append(b.Tags, tag)
		}
	}
	sort.Strings(b.Tags)

	entries := make([]*noteEntry, 0, len(e.notes))
	for _, n := range e.notes {
		if !n.removed {
			entries = append(entries, n)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].clock != entries[j].clock {
			return entries[i].clock < entries[j].clock
		}
		if entries[i].actor != entries[j].actor {
			return entries[i].actor < entries[j].actor
		}
		return entries[i].note.ID < entries[j].note.ID
	})
	for _, n := range entries {
		b.Notes = append(b.Notes, n.note)
	}
	return b
}
