package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a bookmark",
	Long: `Delete a bookmark by id or by a unique id prefix of up to eight
characters. Deletion wins over edits made concurrently on other
replicas; a deleted bookmark never comes back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		b, err := r.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %s  %s\n", shortID(b.ID), b.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
