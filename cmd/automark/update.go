package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/automark/internal/bookmark"
	"github.com/evcraddock/automark/internal/repo"
)

var (
	updTitle      string
	updAuthor     string
	updStatus     string
	updPriority   int
	updNoPriority bool
	updPublish    string
	updNoPublish  bool
	updAddTags    []string
	updRmTags     []string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update bookmark fields",
	Long: `Update fields on an existing bookmark.

Only the flags you pass change anything. Tag changes merge with edits
made on other replicas; scalar fields resolve concurrent edits
deterministically in favor of the later write.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch repo.Patch
		if cmd.Flags().Changed("title") {
			patch.Title = &updTitle
		}
		if cmd.Flags().Changed("author") {
			patch.Author = &updAuthor
		}
		if updStatus != "" {
			st, err := bookmark.ParseStatus(updStatus)
			if err != nil {
				return err
			}
			patch.Status = &st
		}
		if cmd.Flags().Changed("priority") {
			p := updPriority
			patch.Priority = &p
		}
		patch.ClearPriority = updNoPriority
		if updPublish != "" {
			t, err := time.Parse("2006-01-02", updPublish)
			if err != nil {
				return fmt.Errorf("invalid publish date %q (want YYYY-MM-DD)", updPublish)
			}
			patch.PublishDate = &t
		}
		patch.ClearPublishDate = updNoPublish
		patch.AddTags = updAddTags
		patch.RemoveTags = updRmTags

		if patch.Empty() {
			return fmt.Errorf("nothing to update: pass at least one field flag")
		}

		r, err := openRepo()
		if err != nil {
			return err
		}
		b, err := r.Update(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s\n", shortID(b.ID))
		printBookmark(b)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVarP(&updTitle, "title", "t", "", "new title")
	updateCmd.Flags().StringVarP(&updAuthor, "author", "a", "", "new author (empty clears)")
	updateCmd.Flags().StringVarP(&updStatus, "status", "s", "", "reading status (unread, reading, completed)")
	updateCmd.Flags().IntVarP(&updPriority, "priority", "p", 0, "priority rating 1-5")
	updateCmd.Flags().BoolVar(&updNoPriority, "clear-priority", false, "remove the priority rating")
	updateCmd.Flags().StringVar(&updPublish, "published", "", "publish date (YYYY-MM-DD)")
	updateCmd.Flags().BoolVar(&updNoPublish, "clear-published", false, "remove the publish date")
	updateCmd.Flags().StringSliceVar(&updAddTags, "add-tags", nil, "tags to add")
	updateCmd.Flags().StringSliceVar(&updRmTags, "remove-tags", nil, "tags to remove")
	rootCmd.AddCommand(updateCmd)
}
