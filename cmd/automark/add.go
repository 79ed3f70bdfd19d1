package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/automark/internal/extract"
	"github.com/evcraddock/automark/internal/repo"
)

var (
	addTitle    string
	addAuthor   string
	addTags     []string
	addPriority int
	addPublish  string
	addFetch    bool
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a bookmark",
	Long: `Add a bookmark for a URL.

With --fetch, the page is downloaded and its title, author and publish
date prefill anything you did not pass explicitly. Explicit flags always
win over fetched metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawURL := args[0]

		params := repo.CreateParams{
			URL:    rawURL,
			Title:  addTitle,
			Author: addAuthor,
			Tags:   addTags,
		}
		if cmd.Flags().Changed("priority") {
			p := addPriority
			params.Priority = &p
		}
		if addPublish != "" {
			t, err := time.Parse("2006-01-02", addPublish)
			if err != nil {
				return fmt.Errorf("invalid publish date %q (want YYYY-MM-DD)", addPublish)
			}
			params.PublishDate = &t
		}

		if addFetch {
			md, err := extract.NewHTTPExtractor().Extract(cmd.Context(), rawURL)
			if err != nil {
				fmt.Printf("Warning: could not fetch metadata: %v\n", err)
			} else {
				if params.Title == "" {
					params.Title = md.Title
				}
				if params.Author == "" {
					params.Author = md.Author
				}
				if params.PublishDate == nil {
					params.PublishDate = md.PublishDate
				}
			}
		}
		if strings.TrimSpace(params.Title) == "" {
			return fmt.Errorf("a title is required: pass --title or use --fetch")
		}

		r, err := openRepo()
		if err != nil {
			return err
		}
		b, err := r.Create(cmd.Context(), params)
		if err != nil {
			return err
		}

		fmt.Printf("Added %s\n", shortID(b.ID))
		printBookmark(b)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addTitle, "title", "t", "", "bookmark title")
	addCmd.Flags().StringVarP(&addAuthor, "author", "a", "", "author")
	addCmd.Flags().StringSliceVar(&addTags, "tags", nil, "comma-separated tags")
	addCmd.Flags().IntVarP(&addPriority, "priority", "p", 0, "priority rating 1-5")
	addCmd.Flags().StringVar(&addPublish, "published", "", "publish date (YYYY-MM-DD)")
	addCmd.Flags().BoolVar(&addFetch, "fetch", false, "fetch page metadata to prefill fields")
	rootCmd.AddCommand(addCmd)
}
