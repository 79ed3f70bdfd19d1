package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/automark/internal/bookmark"
	"github.com/evcraddock/automark/internal/search"
)

var (
	searchText     string
	searchTags     []string
	searchAnyTag   bool
	searchStatus   string
	searchMinPrio  int
	searchMaxPrio  int
	searchSince    string
	searchUntil    string
	searchPubSince string
	searchPubUntil string
	searchSortBy   string
	searchDesc     bool
	searchOffset   int
	searchLimit    int
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Search and filter bookmarks",
	Long: `Search bookmarks by text and structured filters.

Text matches case-insensitively against title, URL, author and note
contents. All active filters must match; --any-tag switches the tag
filter from "all of" to "any of".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := search.Query{
			Text:   searchText,
			Tags:   searchTags,
			SortBy: search.SortField(searchSortBy),
			Offset: searchOffset,
			Limit:  searchLimit,
		}
		if len(args) == 1 {
			q.Text = args[0]
		}
		if searchAnyTag {
			q.TagMode = search.TagModeOr
		}
		if searchDesc {
			q.Order = search.Descending
		}
		if searchStatus != "" {
			st, err := bookmark.ParseStatus(searchStatus)
			if err != nil {
				return err
			}
			q.Status = &st
		}
		if cmd.Flags().Changed("min-priority") || cmd.Flags().Changed("max-priority") {
			lo, hi := searchMinPrio, searchMaxPrio
			if !cmd.Flags().Changed("min-priority") {
				lo = 1
			}
			if !cmd.Flags().Changed("max-priority") {
				hi = 5
			}
			q.Priority = &search.Range{Low: lo, High: hi}
		}
		var err error
		if q.BookmarkedSince, err = parseDateFlag("since", searchSince, false); err != nil {
			return err
		}
		if q.BookmarkedUntil, err = parseDateFlag("until", searchUntil, true); err != nil {
			return err
		}
		if q.PublishedSince, err = parseDateFlag("published-since", searchPubSince, false); err != nil {
			return err
		}
		if q.PublishedUntil, err = parseDateFlag("published-until", searchPubUntil, true); err != nil {
			return err
		}

		r, err := openRepo()
		if err != nil {
			return err
		}
		result, err := r.Search(cmd.Context(), q)
		if err != nil {
			return err
		}

		if searchJSON {
			return printJSON(result)
		}
		for i := range result.Bookmarks {
			printRow(&result.Bookmarks[i])
		}
		fmt.Printf("\n%d of %d match(es) in %v\n",
			len(result.Bookmarks), result.Total, result.Elapsed.Round(time.Microsecond))
		return nil
	},
}

// parseDateFlag parses YYYY-MM-DD. Upper bounds extend to the end of the
// named day so --until 2026-01-02 includes all of January 2nd.
func parseDateFlag(name, value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q (want YYYY-MM-DD)", name, value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func init() {
	searchCmd.Flags().StringVar(&searchText, "text", "", "text to match")
	searchCmd.Flags().StringSliceVar(&searchTags, "tags", nil, "tags to filter by")
	searchCmd.Flags().BoolVar(&searchAnyTag, "any-tag", false, "match any tag instead of all")
	searchCmd.Flags().StringVar(&searchStatus, "status", "", "reading status (unread, reading, completed)")
	searchCmd.Flags().IntVar(&searchMinPrio, "min-priority", 1, "minimum priority")
	searchCmd.Flags().IntVar(&searchMaxPrio, "max-priority", 5, "maximum priority")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "bookmarked on or after (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "bookmarked on or before (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchPubSince, "published-since", "", "published on or after (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchPubUntil, "published-until", "", "published on or before (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchSortBy, "sort", "bookmarked_date", "sort field (bookmarked_date, publish_date, title)")
	searchCmd.Flags().BoolVar(&searchDesc, "desc", false, "sort descending")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "skip the first N matches")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "return at most N matches (0 = all)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output JSON")
	rootCmd.AddCommand(searchCmd)
}
