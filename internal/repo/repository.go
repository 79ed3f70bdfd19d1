// Package repo exposes the bookmark collection behind a storage-agnostic
// repository interface. The production implementation is backed by the
// CRDT document; an in-memory implementation backs tests.
package repo

import (
	"context"
	"time"

	"github.com/evcraddock/automark/internal/bookmark"
	"github.com/evcraddock/automark/internal/search"
)

// CreateParams carries everything needed to create a bookmark. URL and
// Title are required; the rest is optional.
type CreateParams struct {
	URL         string
	Title       string
	Author      string
	Tags        []string
	Priority    *int
	PublishDate *time.Time
}

// Patch describes a partial update. Nil pointer members leave the field
// untouched; the Clear flags remove an optional value.
type Patch struct {
	Title  *string
	Author *string
	Status *bookmark.ReadingStatus

	Priority      *int
	ClearPriority bool

	PublishDate      *time.Time
	ClearPublishDate bool

	AddTags    []string
	RemoveTags []string
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.Status == nil &&
		p.Priority == nil && !p.ClearPriority &&
		p.PublishDate == nil && !p.ClearPublishDate &&
		len(p.AddTags) == 0 && len(p.RemoveTags) == 0
}

// Repository is the application-facing view of the bookmark collection.
// Every mutation validates its input first; validation failures never
// change or persist anything.
type Repository interface {
	// Create validates the params and stores a new bookmark.
	Create(ctx context.Context, params CreateParams) (*bookmark.Bookmark, error)

	// FindByID returns the bookmark with the exact id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*bookmark.Bookmark, error)

	// FindAll returns every live bookmark sorted by bookmarked date.
	FindAll(ctx context.Context) ([]bookmark.Bookmark, error)

	// Update applies a patch to an existing bookmark and returns the
	// updated state.
	Update(ctx context.Context, id string, patch Patch) (*bookmark.Bookmark, error)

	// Delete tombstones a bookmark. The id may be a unique prefix of up
	// to eight characters; an ambiguous prefix fails with
	// AmbiguousIDError. Returns the state as it was before deletion.
	Delete(ctx context.Context, id string) (*bookmark.Bookmark, error)

	// Search runs a query against the current snapshot.
	Search(ctx context.Context, q search.Query) (search.Result, error)

	// SearchByText matches text case-insensitively against title, URL,
	// author and note contents.
	SearchByText(ctx context.Context, text string) ([]bookmark.Bookmark, error)

	// FindByTags returns bookmarks matching the tags under the given
	// mode (all of them, or any of them).
	FindByTags(ctx context.Context, tags []string, mode search.TagMode) ([]bookmark.Bookmark, error)

	// AddNote appends a note and returns it.
	AddNote(ctx context.Context, id, content string) (*bookmark.Note, error)

	// RemoveNote deletes a note by id, or returns ErrNoteNotFound.
	RemoveNote(ctx context.Context, id, noteID string) error
}
