package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Manage notes on a bookmark",
}

var noteAddCmd = &cobra.Command{
	Use:   "add <bookmark-id> <content>...",
	Short: "Add a note",
	Long: `Attach a note to a bookmark. Notes are append-only: they can be
added and removed but never edited, so notes written concurrently on
different replicas all survive a sync.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		note, err := r.AddNote(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Added note %s\n", shortID(note.ID))
		return nil
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm <bookmark-id> <note-id>",
	Short: "Remove a note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		if err := r.RemoveNote(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Note removed")
		return nil
	},
}

func init() {
	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteRmCmd)
	rootCmd.AddCommand(noteCmd)
}
