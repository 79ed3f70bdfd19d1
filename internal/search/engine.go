// Package search answers text/tag/status/priority/date queries over a
// document snapshot. It is a pure function of its inputs: it never
// touches the store and never mutates the snapshot it is given.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/evcraddock/automark/internal/bookmark"
)

// TagMode selects the tag filter semantics.
type TagMode int

const (
	// TagModeAnd matches bookmarks whose tag set contains every
	// filter tag. This is the default.
	TagModeAnd TagMode = iota
	// TagModeOr matches bookmarks sharing at least one filter tag.
	TagModeOr
)

// SortField names the sort key.
type SortField string

const (
	SortByBookmarkedDate SortField = "bookmarked_date"
	SortByPublishDate    SortField = "publish_date"
	SortByTitle          SortField = "title"
)

// SortOrder is the sort direction.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// Range is an inclusive numeric interval.
type Range struct {
	Low  int
	High int
}

// Query describes one search. Zero values mean "no filter"; Limit 0
// means no pagination cap.
type Query struct {
	Text    string
	Tags    []string
	TagMode TagMode
	Status  *bookmark.ReadingStatus

	// Priority, when set, excludes bookmarks without a rating.
	Priority *Range

	BookmarkedSince *time.Time
	BookmarkedUntil *time.Time
	PublishedSince  *time.Time
	PublishedUntil  *time.Time

	SortBy SortField
	Order  SortOrder

	Offset int
	Limit  int
}

// Result is one page of matches plus observability data.
type Result struct {
	Bookmarks []bookmark.Bookmark
	// Total is the match count before pagination.
	Total   int
	Elapsed time.Duration
}

// Run filters, sorts and paginates the snapshot according to the query.
func Run(snapshot []bookmark.Bookmark, q Query) Result {
	start := time.Now()

	text := strings.ToLower(q.Text)
	tags := bookmark.NormalizeTags(q.Tags)

	matched := make([]bookmark.Bookmark, 0, len(snapshot))
	for _, b := range snapshot {
		if matches(&b, text, tags, &q) {
			matched = append(matched, b)
		}
	}

	sortBookmarks(matched, q.SortBy, q.Order)

	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)

	return Result{
		Bookmarks: page,
		Total:     total,
		Elapsed:   time.Since(start),
	}
}

func matches(b *bookmark.Bookmark, text string, tags []string, q *Query) bool {
	if text != "" && !matchesText(b, text) {
		return false
	}
	if len(tags) > 0 && !matchesTags(b, tags, q.TagMode) {
		return false
	}
	if q.Status != nil && b.ReadingStatus != *q.Status {
		return false
	}
	if q.Priority != nil {
		if b.PriorityRating == nil {
			return false
		}
		if *b.PriorityRating < q.Priority.Low || *b.PriorityRating > q.Priority.High {
			return false
		}
	}
	if q.BookmarkedSince != nil && b.BookmarkedDate.Before(*q.BookmarkedSince) {
		return false
	}
	if q.BookmarkedUntil != nil && b.BookmarkedDate.After(*q.BookmarkedUntil) {
		return false
	}
	if q.PublishedSince != nil && (b.PublishDate == nil || b.PublishDate.Before(*q.PublishedSince)) {
		return false
	}
	if q.PublishedUntil != nil && (b.PublishDate == nil || b.PublishDate.After(*q.PublishedUntil)) {
		return false
	}
	return true
}

// matchesText does a case-insensitive substring match across title,
// url, author, and every note's content.
func matchesText(b *bookmark.Bookmark, text string) bool {
	if strings.Contains(strings.ToLower(b.Title), text) ||
		strings.Contains(strings.ToLower(b.URL), text) ||
		strings.Contains(strings.ToLower(b.Author), text) {
		return true
	}
	for _, n := range b.Notes {
		if strings.Contains(strings.ToLower(n.Content), text) {
			return true
		}
	}
	return false
}

func matchesTags(b *bookmark.Bookmark, tags []string, mode TagMode) bool {
	if mode == TagModeOr {
		for _, t := range tags {
			if b.HasTag(t) {
				return true
			}
		}
		return false
	}
	for _, t := range tags {
		if !b.HasTag(t) {
			return false
		}
	}
	return true
}

// sortBookmarks orders the matches with a stable id tie-break so
// repeated queries return deterministic ordering.
func sortBookmarks(list []bookmark.Bookmark, field SortField, order SortOrder) {
	if field == "" {
		field = SortByBookmarkedDate
	}
	less := func(i, j int) bool {
		var before, equal bool
		switch field {
		case SortByTitle:
			a, b := strings.ToLower(list[i].Title), strings.ToLower(list[j].Title)
			before, equal = a < b, a == b
		case SortByPublishDate:
			before, equal = timePtrLess(list[i].PublishDate, list[j].PublishDate)
		default:
			before = list[i].BookmarkedDate.Before(list[j].BookmarkedDate)
			equal = list[i].BookmarkedDate.Equal(list[j].BookmarkedDate)
		}
		if equal {
			return list[i].ID < list[j].ID
		}
		if order == Descending {
			return !before
		}
		return before
	}
	sort.Slice(list, less)
}

// timePtrLess orders optional times, placing absent values last.
func timePtrLess(a, b *time.Time) (before, equal bool) {
	switch {
	case a == nil && b == nil:
		return false, true
	case a == nil:
		return false, false
	case b == nil:
		return true, false
	default:
		return a.Before(*b), a.Equal(*b)
	}
}

func paginate(list []bookmark.Bookmark, offset, limit int) []bookmark.Bookmark {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return nil
	}
	page := list[offset:]
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}
	out := make([]bookmark.Bookmark, len(page))
	copy(out, page)
	return out
}
