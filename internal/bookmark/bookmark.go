// Package bookmark defines the domain types for the automark store.
//
// A Bookmark is the root entity of the shared document. Field values are
// validated before any mutation is accepted; nothing in this package
// touches storage or the change history.
package bookmark

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReadingStatus tracks how far the user has gotten with a bookmark.
type ReadingStatus string

const (
	StatusUnread    ReadingStatus = "unread"
	StatusReading   ReadingStatus = "reading"
	StatusCompleted ReadingStatus = "completed"
)

// ParseStatus converts user input into a ReadingStatus.
func ParseStatus(s string) (ReadingStatus, error) {
	switch ReadingStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusUnread:
		return StatusUnread, nil
	case StatusReading:
		return StatusReading, nil
	case StatusCompleted:
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid reports whether the status is one of the known values.
func (s ReadingStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusReading, StatusCompleted:
		return true
	}
	return false
}

// Note is an immutable annotation attached to a bookmark. Notes are only
// ever appended or deleted by id; content is never edited in place.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNote creates a note with a fresh id.
func NewNote(content string) Note {
	return Note{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Bookmark is the root entity, keyed by a globally unique id.
//
// BookmarkedDate is set once at creation and never mutated. Tags are
// always lowercase and deduplicated. PriorityRating, when present, is
// in [1,5].
type Bookmark struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	Title          string        `json:"title"`
	Author         string        `json:"author,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	PublishDate    *time.Time    `json:"publish_date,omitempty"`
	BookmarkedDate time.Time     `json:"bookmarked_date"`
	Notes          []Note        `json:"notes,omitempty"`
	ReadingStatus  ReadingStatus `json:"reading_status"`
	PriorityRating *int          `json:"priority_rating,omitempty"`
}

// New validates url and title and returns a fresh bookmark with a
// generated id and bookmarked date.
func New(rawURL, title string) (*Bookmark, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	return &Bookmark{
		ID:             uuid.NewString(),
		URL:            rawURL,
		Title:          title,
		BookmarkedDate: time.Now().UTC(),
		ReadingStatus:  StatusUnread,
	}, nil
}

// ValidateURL requires an absolute URL with a scheme and host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// ValidatePriority enforces the 1..5 range.
func ValidatePriority(p int) error {
	if p < 1 || p > 5 {
		return fmt.Errorf("%w (got %d)", ErrInvalidPriority, p)
	}
	return nil
}

// NormalizeTags lowercases, trims, deduplicates and sorts a tag list.
// The sorted order keeps snapshots deterministic across replicas.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HasTag reports whether the bookmark carries the given normalized tag.
func (b *Bookmark) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
