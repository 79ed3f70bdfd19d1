package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcraddock/automark/internal/bookmark"
	"github.com/evcraddock/automark/internal/crdt"
	"github.com/evcraddock/automark/internal/search"
)

func newTestRepo(t *testing.T) *CRDTRepository {
	t.Helper()
	return NewMemory("test-actor")
}

func TestCreateMinimal(t *testing.T) {
	r := newTestRepo(t)
	b, err := r.Create(context.Background(), CreateParams{
		URL:   "https://example.com/post",
		Title: "A Post",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, bookmark.StatusUnread, b.ReadingStatus)
	assert.Nil(t, b.PriorityRating)
}

func TestCreateFull(t *testing.T) {
	r := newTestRepo(t)
	p := 4
	pub := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	b, err := r.Create(context.Background(), CreateParams{
		URL:         "https://example.com/post",
		Title:       "A Post",
		Author:      "Ada",
		Tags:        []string{"Go", "go", " CRDT "},
		Priority:    &p,
		PublishDate: &pub,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", b.Author)
	assert.Equal(t, []string{"crdt", "go"}, b.Tags)
	require.NotNil(t, b.PriorityRating)
	assert.Equal(t, 4, *b.PriorityRating)
	require.NotNil(t, b.PublishDate)
	assert.True(t, pub.Equal(*b.PublishDate))
}

func TestCreateValidationDoesNotMutate(t *testing.T) {
	r := newTestRepo(t)
	bad := 9
	_, err := r.Create(context.Background(), CreateParams{
		URL: "https://example.com", Title: "T", Priority: &bad,
	})
	assert.ErrorIs(t, err, bookmark.ErrInvalidPriority)

	_, err = r.Create(context.Background(), CreateParams{URL: "nope", Title: "T"})
	assert.ErrorIs(t, err, bookmark.ErrInvalidURL)

	all, err := r.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "failed validation must leave the store untouched")
}

func TestFindByID(t *testing.T) {
	r := newTestRepo(t)
	b, err := r.Create(context.Background(), CreateParams{URL: "https://example.com", Title: "T"})
	require.NoError(t, err)

	got, err := r.FindByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = r.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, bookmark.ErrNotFound)
}

func TestUpdateFields(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	b, err := r.Create(ctx, CreateParams{URL: "https://example.com", Title: "Old"})
	require.NoError(t, err)

	title := "New"
	author := "Grace"
	status := bookmark.StatusReading
	p := 2
	updated, err := r.Update(ctx, b.ID, Patch{
		Title:    &title,
		Author:   &author,
		Status:   &status,
		Priority: &p,
		AddTags:  []string{"go"},
	})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, "Grace", updated.Author)
	assert.Equal(t, bookmark.StatusReading, updated.ReadingStatus)
	assert.Equal(t, 2, *updated.PriorityRating)
	assert.Equal(t, []string{"go"}, updated.Tags)

	updated, err = r.Update(ctx, b.ID, Patch{
		ClearPriority: true,
		RemoveTags:    []string{"go"},
	})
	require.NoError(t, err)
	assert.Nil(t, updated.PriorityRating)
	assert.Empty(t, updated.Tags)
}

func TestUpdateRejectsBadPatch(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	b, err := r.Create(ctx, CreateParams{URL: "https://example.com", Title: "Keep"})
	require.NoError(t, err)

	empty := "  "
	_, err = r.Update(ctx, b.ID, Patch{Title: &empty})
	assert.ErrorIs(t, err, bookmark.ErrEmptyTitle)

	bad := bookmark.ReadingStatus("done")
	_, err = r.Update(ctx, b.ID, Patch{Status: &bad})
	assert.ErrorIs(t, err, bookmark.ErrInvalidStatus)

	got, err := r.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Keep", got.Title)
}

func TestUpdateMissing(t *testing.T) {
	r := newTestRepo(t)
	title := "x"
	_, err := r.Update(context.Background(), "missing", Patch{Title: &title})
	assert.ErrorIs(t, err, bookmark.ErrNotFound)
}

// createWithID plants a bookmark with a known id straight into the
// document, so prefix matching is testable despite generated ids.
func createWithID(t *testing.T, r *CRDTRepository, id string) {
	t.Helper()
	_, err := r.Document().ApplyLocal(crdt.Op{
		Kind:           crdt.OpCreate,
		BookmarkID:     id,
		URL:            "https://example.com/" + id,
		Title:          "Bookmark " + id,
		BookmarkedDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func TestDeleteByPrefix(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	createWithID(t, r, "aaaa1111-unique")
	createWithID(t, r, "bbbb2222-unique")

	before, err := r.Delete(ctx, "aaaa")
	require.NoError(t, err)
	assert.Equal(t, "aaaa1111-unique", before.ID)
	assert.Equal(t, "Bookmark aaaa1111-unique", before.Title, "delete returns the pre-deletion state")

	_, err = r.FindByID(ctx, "aaaa1111-unique")
	assert.ErrorIs(t, err, bookmark.ErrNotFound)
}

func TestDeleteAmbiguousPrefix(t *testing.T) {
	r := newTestRepo(t)
	createWithID(t, r, "abcd1111")
	createWithID(t, r, "abcd2222")

	_, err := r.Delete(context.Background(), "abcd")
	var ambiguous *bookmark.AmbiguousIDError
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Matches, 2)

	all, err := r.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2, "ambiguous delete must not delete anything")
}

func TestDeleteUnknown(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Delete(context.Background(), "zzzz")
	assert.ErrorIs(t, err, bookmark.ErrNotFound)
}

func TestDeletePrefixTooLong(t *testing.T) {
	r := newTestRepo(t)
	createWithID(t, r, "abcd1111-unique")

	// nine characters is past the prefix window and not an exact id
	_, err := r.Delete(context.Background(), "abcd1111-")
	assert.ErrorIs(t, err, bookmark.ErrNotFound)
}

func TestNotes(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	b, err := r.Create(ctx, CreateParams{URL: "https://example.com", Title: "T"})
	require.NoError(t, err)

	note, err := r.AddNote(ctx, b.ID, "  worth rereading  ")
	require.NoError(t, err)
	assert.Equal(t, "worth rereading", note.Content)

	got, err := r.FindByID(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got.Notes, 1)

	require.NoError(t, r.RemoveNote(ctx, b.ID, note.ID))
	got, err = r.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Notes)

	err = r.RemoveNote(ctx, b.ID, note.ID)
	assert.ErrorIs(t, err, bookmark.ErrNoteNotFound)

	_, err = r.AddNote(ctx, b.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyNote)
}

func TestSearchGoesThroughSnapshot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, err := r.Create(ctx, CreateParams{URL: "https://example.com/go", Title: "Go Post", Tags: []string{"go"}})
	require.NoError(t, err)
	_, err = r.Create(ctx, CreateParams{URL: "https://example.com/rust", Title: "Rust Post", Tags: []string{"rust"}})
	require.NoError(t, err)

	result, err := r.Search(ctx, search.Query{Tags: []string{"go"}})
	require.NoError(t, err)
	require.Len(t, result.Bookmarks, 1)
	assert.Equal(t, "Go Post", result.Bookmarks[0].Title)

	upper, err := r.SearchByText(ctx, "RUST")
	require.NoError(t, err)
	lower, err := r.SearchByText(ctx, "rust")
	require.NoError(t, err)
	assert.Equal(t, upper, lower, "text search is case-insensitive")
	require.Len(t, upper, 1)

	either, err := r.FindByTags(ctx, []string{"go", "rust"}, search.TagModeOr)
	require.NoError(t, err)
	assert.Len(t, either, 2)
	both, err := r.FindByTags(ctx, []string{"go", "rust"}, search.TagModeAnd)
	require.NoError(t, err)
	assert.Empty(t, both)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bookmarks.automark")
	ctx := context.Background()

	r1, err := Open(path, nil)
	require.NoError(t, err)
	b, err := r1.Create(ctx, CreateParams{URL: "https://example.com", Title: "Durable"})
	require.NoError(t, err)
	_, err = r1.AddNote(ctx, b.ID, "survives restart")
	require.NoError(t, err)

	r2, err := Open(path, nil)
	require.NoError(t, err)
	got, err := r2.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Durable", got.Title)
	require.Len(t, got.Notes, 1)

	// same replica identity after reopen
	assert.Equal(t, r1.Document().Actor(), r2.Document().Actor())
}
