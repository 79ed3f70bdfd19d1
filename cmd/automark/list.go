package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all bookmarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		all, err := r.FindAll(cmd.Context())
		if err != nil {
			return err
		}
		if listJSON {
			return printJSON(all)
		}
		if len(all) == 0 {
			fmt.Println("No bookmarks yet. Add one with 'automark add <url>'.")
			return nil
		}
		for i := range all {
			printRow(&all[i])
		}
		fmt.Printf("\n%d bookmark(s)\n", len(all))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one bookmark in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		b, err := r.FindByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printBookmark(b)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output JSON")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}
