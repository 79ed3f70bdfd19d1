package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/evcraddock/automark/internal/bookmark"
	"github.com/evcraddock/automark/internal/crdt"
	"github.com/evcraddock/automark/internal/search"
	"github.com/evcraddock/automark/internal/storage"
)

// maxIDPrefix caps how short a partial id may be matched; it mirrors the
// shortened ids printed by the CLI.
const maxIDPrefix = 8

// ErrEmptyNote is returned when a note has no content after trimming.
var ErrEmptyNote = errors.New("note content must not be empty")

// CRDTRepository is the durable Repository implementation. Every
// successful mutation rewrites the document file before returning, so a
// crash between operations never loses an acknowledged write.
type CRDTRepository struct {
	mu   sync.Mutex
	doc  *crdt.Document
	path string
	log  *zap.Logger
}

var _ Repository = (*CRDTRepository)(nil)

// Open loads (or initializes) the document file at path. The durable
// actor id lives next to the document so replica identity survives
// restarts. A damaged document tail is recovered to its valid prefix
// and logged rather than treated as fatal.
func Open(path string, log *zap.Logger) (*CRDTRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dir := filepath.Dir(path)
	actor, err := storage.ActorID(dir)
	if err != nil {
		return nil, err
	}

	changes, recovered, err := storage.Load(path)
	if err != nil {
		return nil, err
	}
	if recovered {
		log.Warn("document tail damaged, recovered valid prefix",
			zap.String("path", path),
			zap.Int("changes", len(changes)))
	}

	doc, err := crdt.Load(actor, changes)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild document: %w", err)
	}
	return &CRDTRepository{doc: doc, path: path, log: log}, nil
}

// Document exposes the underlying CRDT document for the sync engine.
func (r *CRDTRepository) Document() *crdt.Document { return r.doc }

// Persist rewrites the document file from the current change log. The
// sync engine calls it after merging remote changes.
func (r *CRDTRepository) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistLocked()
}

func (r *CRDTRepository) persistLocked() error {
	if r.path == "" {
		return nil
	}
	return storage.Save(r.path, r.doc.Changes())
}

func (r *CRDTRepository) Create(ctx context.Context, params CreateParams) (*bookmark.Bookmark, error) {
	b, err := bookmark.New(params.URL, params.Title)
	if err != nil {
		return nil, err
	}
	if params.Priority != nil {
		if err := bookmark.ValidatePriority(*params.Priority); err != nil {
			return nil, err
		}
	}
	tags := bookmark.NormalizeTags(params.Tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.doc.ApplyLocal(crdt.Op{
		Kind:           crdt.OpCreate,
		BookmarkID:     b.ID,
		URL:            b.URL,
		Title:          b.Title,
		BookmarkedDate: b.BookmarkedDate,
	})
	if err != nil {
		return nil, err
	}

	if author := strings.TrimSpace(params.Author); author != "" {
		if err := r.setField(b.ID, crdt.FieldAuthor, crdt.Op{Str: &author}); err != nil {
			return nil, err
		}
	}
	if params.Priority != nil {
		if err := r.setField(b.ID, crdt.FieldPriority, crdt.Op{Int: params.Priority}); err != nil {
			return nil, err
		}
	}
	if params.PublishDate != nil {
		if err := r.setField(b.ID, crdt.FieldPublishDate, crdt.Op{Time: params.PublishDate}); err != nil {
			return nil, err
		}
	}
	for _, tag := range tags {
		_, err := r.doc.ApplyLocal(crdt.Op{Kind: crdt.OpAddTag, BookmarkID: b.ID, Tag: tag})
		if err != nil {
			return nil, err
		}
	}

	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	r.log.Info("bookmark created", zap.String("id", b.ID), zap.String("url", b.URL))

	out, _ := r.doc.Get(b.ID)
	return out, nil
}

func (r *CRDTRepository) setField(id string, f crdt.Field, op crdt.Op) error {
	op.Kind = crdt.OpSet
	op.BookmarkID = id
	op.Field = f
	_, err := r.doc.ApplyLocal(op)
	return err
}

func (r *CRDTRepository) FindByID(ctx context.Context, id string) (*bookmark.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.doc.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", bookmark.ErrNotFound, id)
	}
	return b, nil
}

func (r *CRDTRepository) FindAll(ctx context.Context) ([]bookmark.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Snapshot(), nil
}

func (r *CRDTRepository) Update(ctx context.Context, id string, patch Patch) (*bookmark.Bookmark, error) {
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doc.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", bookmark.ErrNotFound, id)
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if err := r.setField(id, crdt.FieldTitle, crdt.Op{Str: &title}); err != nil {
			return nil, err
		}
	}
	if patch.Author != nil {
		var str *string
		if author := strings.TrimSpace(*patch.Author); author != "" {
			str = &author
		}
		if err := r.setField(id, crdt.FieldAuthor, crdt.Op{Str: str}); err != nil {
			return nil, err
		}
	}
	if patch.Status != nil {
		status := string(*patch.Status)
		if err := r.setField(id, crdt.FieldStatus, crdt.Op{Str: &status}); err != nil {
			return nil, err
		}
	}
	if patch.Priority != nil || patch.ClearPriority {
		if err := r.setField(id, crdt.FieldPriority, crdt.Op{Int: patch.Priority}); err != nil {
			return nil, err
		}
	}
	if patch.PublishDate != nil || patch.ClearPublishDate {
		if err := r.setField(id, crdt.FieldPublishDate, crdt.Op{Time: patch.PublishDate}); err != nil {
			return nil, err
		}
	}
	for _, tag := range bookmark.NormalizeTags(patch.AddTags) {
		_, err := r.doc.ApplyLocal(crdt.Op{Kind: crdt.OpAddTag, BookmarkID: id, Tag: tag})
		if err != nil {
			return nil, err
		}
	}
	for _, tag := range bookmark.NormalizeTags(patch.RemoveTags) {
		_, err := r.doc.ApplyLocal(crdt.Op{Kind: crdt.OpRemoveTag, BookmarkID: id, Tag: tag})
		if err != nil {
			return nil, err
		}
	}

	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	b, _ := r.doc.Get(id)
	return b, nil
}

func validatePatch(p *Patch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return bookmark.ErrEmptyTitle
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", bookmark.ErrInvalidStatus, string(*p.Status))
	}
	if p.Priority != nil {
		if err := bookmark.ValidatePriority(*p.Priority); err != nil {
			return err
		}
	}
	return nil
}

func (r *CRDTRepository) Delete(ctx context.Context, id string) (*bookmark.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full, err := r.resolveID(id)
	if err != nil {
		return nil, err
	}
	before, _ := r.doc.Get(full)

	if _, err := r.doc.ApplyLocal(crdt.Op{Kind: crdt.OpDelete, BookmarkID: full}); err != nil {
		return nil, err
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	r.log.Info("bookmark deleted", zap.String("id", full))
	return before, nil
}

// resolveID matches an exact id first, then a unique prefix of up to
// maxIDPrefix characters against live bookmarks. Caller holds r.mu.
func (r *CRDTRepository) resolveID(id string) (string, error) {
	if _, ok := r.doc.Get(id); ok {
		return id, nil
	}
	if len(id) == 0 || len(id) > maxIDPrefix {
		return "", fmt.Errorf("%w: %s", bookmark.ErrNotFound, id)
	}

	var matches []string
	for _, b := range r.doc.Snapshot() {
		if strings.HasPrefix(b.ID, id) {
			matches = append(matches, b.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", bookmark.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", &bookmark.AmbiguousIDError{Input: id, Matches: matches}
	}
}

func (r *CRDTRepository) Search(ctx context.Context, q search.Query) (search.Result, error) {
	r.mu.Lock()
	snapshot := r.doc.Snapshot()
	r.mu.Unlock()
	return search.Run(snapshot, q), nil
}

func (r *CRDTRepository) SearchByText(ctx context.Context, text string) ([]bookmark.Bookmark, error) {
	result, err := r.Search(ctx, search.Query{Text: text})
	if err != nil {
		return nil, err
	}
	return result.Bookmarks, nil
}

func (r *CRDTRepository) FindByTags(ctx context.Context, tags []string, mode search.TagMode) ([]bookmark.Bookmark, error) {
	result, err := r.Search(ctx, search.Query{Tags: tags, TagMode: mode})
	if err != nil {
		return nil, err
	}
	return result.Bookmarks, nil
}

func (r *CRDTRepository) AddNote(ctx context.Context, id, content string) (*bookmark.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyNote
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doc.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", bookmark.ErrNotFound, id)
	}
	note := bookmark.NewNote(content)
	_, err := r.doc.ApplyLocal(crdt.Op{Kind: crdt.OpAddNote, BookmarkID: id, Note: &note})
	if err != nil {
		return nil, err
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *CRDTRepository) RemoveNote(ctx context.Context, id, noteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.doc.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", bookmark.ErrNotFound, id)
	}
	found := false
	for _, n := range b.Notes {
		if n.ID == noteID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", bookmark.ErrNoteNotFound, noteID)
	}

	_, err := r.doc.ApplyLocal(crdt.Op{Kind: crdt.OpRemoveNote, BookmarkID: id, NoteID: noteID})
	if err != nil {
		return err
	}
	return r.persistLocked()
}
