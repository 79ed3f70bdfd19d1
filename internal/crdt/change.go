// Package crdt implements the conflict-free document store backing the
// bookmark collection.
//
// The document is a map from bookmark id to entity state plus an
// append-only causal change log. Each change is stamped with the local
// replica's durable actor id, a dense per-actor sequence number, and a
// Lamport clock. Scalar conflicts resolve last-writer-wins on
// (clock, actor); deletes win over concurrent edits; tag and note
// collections merge as unions. Wall-clock time is never used to order
// changes.
package crdt

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/evcraddock/automark/internal/bookmark"
)

// Field names a scalar bookmark field updatable through OpSet.
type Field string

const (
	FieldTitle       Field = "title"
	FieldAuthor      Field = "author"
	FieldPublishDate Field = "publish_date"
	FieldStatus      Field = "reading_status"
	FieldPriority    Field = "priority_rating"
)

// OpKind discriminates the operation carried by a change.
type OpKind uint8

const (
	OpCreate OpKind = iota + 1
	OpSet
	OpAddTag
	OpRemoveTag
	OpAddNote
	OpRemoveNote
	OpDelete
)

// Op is a single field-scoped mutation of one bookmark. Exactly one
// group of optional members is populated depending on Kind.
type Op struct {
	Kind       OpKind `cbor:"1,keyasint"`
	BookmarkID string `cbor:"2,keyasint"`

	// OpCreate
	URL            string    `cbor:"3,keyasint,omitempty"`
	Title          string    `cbor:"4,keyasint,omitempty"`
	BookmarkedDate time.Time `cbor:"5,keyasint,omitempty"`

	// OpSet: Field plus the member matching its type. A nil member
	// clears an optional field (author, publish date, priority).
	Field Field      `cbor:"6,keyasint,omitempty"`
	Str   *string    `cbor:"7,keyasint,omitempty"`
	Time  *time.Time `cbor:"8,keyasint,omitempty"`
	Int   *int       `cbor:"9,keyasint,omitempty"`

	// OpAddTag / OpRemoveTag
	Tag string `cbor:"10,keyasint,omitempty"`

	// OpAddNote / OpRemoveNote
	Note   *bookmark.Note `cbor:"11,keyasint,omitempty"`
	NoteID string         `cbor:"12,keyasint,omitempty"`
}

// Change is one immutable record in the causal history.
type Change struct {
	Actor string `cbor:"1,keyasint"`
	Seq   uint64 `cbor:"2,keyasint"`
	Clock uint64 `cbor:"3,keyasint"`
	Op    Op     `cbor:"4,keyasint"`
}

// ChangeID is the stable identifier of a change: actor@seq.
type ChangeID string

// ID returns the stable identifier for this change.
func (c *Change) ID() ChangeID {
	return ChangeID(fmt.Sprintf("%s@%d", c.Actor, c.Seq))
}

// ErrMalformedChange is returned when a change or change batch fails
// structural validation. A merge rejecting a batch with this error
// leaves the document untouched.
var ErrMalformedChange = errors.New("malformed change")

// validateOp checks structural well-formedness. Domain validation
// (URL shape, priority range) belongs to the repository layer and has
// already happened for local ops; remote ops are checked here so a
// corrupt batch cannot poison the state.
func validateOp(op *Op) error {
	if op.BookmarkID == "" {
		return fmt.Errorf("%w: missing bookmark id", ErrMalformedChange)
	}
	switch op.Kind {
	case OpCreate:
		if op.URL == "" || op.Title == "" {
			return fmt.Errorf("%w: create without url or title", ErrMalformedChange)
		}
		if op.BookmarkedDate.IsZero() {
			return fmt.Errorf("%w: create without bookmarked date", ErrMalformedChange)
		}
	case OpSet:
		switch op.Field {
		case FieldTitle:
			if op.Str == nil || *op.Str == "" {
				return fmt.Errorf("%w: title must not be cleared", ErrMalformedChange)
			}
		case FieldAuthor:
			// nil clears
		case FieldStatus:
			if op.Str == nil || !bookmark.ReadingStatus(*op.Str).Valid() {
				return fmt.Errorf("%w: bad reading status", ErrMalformedChange)
			}
		case FieldPublishDate:
			// nil clears
		case FieldPriority:
			if op.Int != nil && (*op.Int < 1 || *op.Int > 5) {
				return fmt.Errorf("%w: priority out of range", ErrMalformedChange)
			}
		default:
			return fmt.Errorf("%w: unknown field %q", ErrMalformedChange, op.Field)
		}
	case OpAddTag, OpRemoveTag:
		if op.Tag == "" {
			return fmt.Errorf("%w: empty tag", ErrMalformedChange)
		}
	case OpAddNote:
		if op.Note == nil || op.Note.ID == "" {
			return fmt.Errorf("%w: add-note without note", ErrMalformedChange)
		}
	case OpRemoveNote:
		if op.NoteID == "" {
			return fmt.Errorf("%w: remove-note without note id", ErrMalformedChange)
		}
	case OpDelete:
		// no payload
	default:
		return fmt.Errorf("%w: unknown op kind %d", ErrMalformedChange, op.Kind)
	}
	return nil
}

func validateChange(c *Change) error {
	if c.Actor == "" {
		return fmt.Errorf("%w: missing actor", ErrMalformedChange)
	}
	if c.Seq == 0 {
		return fmt.Errorf("%w: sequence must start at 1", ErrMalformedChange)
	}
	if c.Clock == 0 {
		return fmt.Errorf("%w: missing clock", ErrMalformedChange)
	}
	return validateOp(&c.Op)
}

// EncodeChange serializes a change to its canonical CBOR form.
func EncodeChange(c *Change) ([]byte, error) {
	return cbor.Marshal(c)
}

// DecodeChange parses and structurally validates a change blob.
// Timestamps are normalized to UTC: CBOR decoding yields local-zone
// times, and converged replicas must produce deeply equal snapshots.
func DecodeChange(data []byte) (*Change, error) {
	var c Change
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}
	c.Op.BookmarkedDate = c.Op.BookmarkedDate.UTC()
	if c.Op.Time != nil {
		utc := c.Op.Time.UTC()
		c.Op.Time = &utc
	}
	if c.Op.Note != nil {
		c.Op.Note.CreatedAt = c.Op.Note.CreatedAt.UTC()
	}
	if err := validateChange(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// newer reports whether (clock, actor) beats (thanClock, thanActor) in
// the deterministic last-writer-wins total order. Ties on clock break
// on the lexical byte order of actor ids.
func newer(clock uint64, actor string, thanClock uint64, thanActor string) bool {
	if clock != thanClock {
		return clock > thanClock
	}
	return actor > thanActor
}
