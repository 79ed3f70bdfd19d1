package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/evcraddock/automark/internal/bookmark"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printBookmark(b *bookmark.Bookmark) {
	fmt.Printf("  %s  %s\n", shortID(b.ID), b.Title)
	fmt.Printf("    url:    %s\n", b.URL)
	if b.Author != "" {
		fmt.Printf("    author: %s\n", b.Author)
	}
	if len(b.Tags) > 0 {
		fmt.Printf("    tags:   %s\n", strings.Join(b.Tags, ", "))
	}
	fmt.Printf("    status: %s", b.ReadingStatus)
	if b.PriorityRating != nil {
		fmt.Printf("  priority: %d", *b.PriorityRating)
	}
	fmt.Println()
	if b.PublishDate != nil {
		fmt.Printf("    published:  %s\n", b.PublishDate.Format("2006-01-02"))
	}
	fmt.Printf("    bookmarked: %s\n", b.BookmarkedDate.Format("2006-01-02"))
	for _, n := range b.Notes {
		fmt.Printf("    note %s (%s): %s\n", shortID(n.ID), n.CreatedAt.Format("2006-01-02"), n.Content)
	}
}

func printRow(b *bookmark.Bookmark) {
	tags := ""
	if len(b.Tags) > 0 {
		tags = "  [" + strings.Join(b.Tags, ",") + "]"
	}
	fmt.Printf("%s  %-10s %s%s\n", shortID(b.ID), b.ReadingStatus, b.Title, tags)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
