package bookmark

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by bookmark operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, bookmark.ErrNotFound) {
//	    // target id absent or tombstoned
//	}
var (
	// ErrNotFound is returned when the target bookmark id is absent
	// or has been tombstoned.
	ErrNotFound = errors.New("bookmark not found")

	// ErrNoteNotFound is returned when a note id does not exist on
	// the target bookmark.
	ErrNoteNotFound = errors.New("note not found")

	// ErrEmptyTitle is returned when a title is empty or whitespace.
	ErrEmptyTitle = errors.New("title must not be empty")

	// ErrInvalidURL is returned when a URL does not parse as an
	// absolute URL with a host.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrInvalidPriority is returned when a priority rating falls
	// outside the 1..5 range.
	ErrInvalidPriority = errors.New("priority must be between 1 and 5")

	// ErrInvalidStatus is returned when a reading status string is
	// not one of unread, reading, completed.
	ErrInvalidStatus = errors.New("invalid reading status")
)

// AmbiguousIDError is returned when a partial id prefix matches more
// than one bookmark. The caller must disambiguate with a longer prefix.
type AmbiguousIDError struct {
	Input   string
	Matches []string
}

func (e *AmbiguousIDError) Error() string {
	short := make([]string, len(e.Matches))
	for i, id := range e.Matches {
		if len(id) > 8 {
			id = id[:8]
		}
		short[i] = id
	}
	return fmt.Sprintf("ambiguous id %q matches multiple bookmarks: %s (use a longer prefix)",
		e.Input, strings.Join(short, ", "))
}

// IsValidation reports whether the error is a pre-mutation validation
// failure. Validation failures never mutate or persist anything.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyTitle) ||
		errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrInvalidStatus)
}
