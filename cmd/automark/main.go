// automark is a local-first bookmark manager. Bookmarks live in a CRDT
// document on disk and sync with peers over websockets without ever
// losing a concurrent edit.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evcraddock/automark/internal/config"
	"github.com/evcraddock/automark/internal/logger"
	"github.com/evcraddock/automark/internal/repo"
	"github.com/evcraddock/automark/internal/version"
)

var (
	cfgPath  string
	logLevel string

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "automark",
	Short: "Local-first bookmark manager with peer sync",
	Long: `automark keeps your bookmarks in a conflict-free document on disk.

Every edit works offline. Replicas exchange changes with a sync server
and converge to the same collection no matter the order edits happened
in; concurrent edits merge instead of overwriting each other.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		log, err = logger.New(level, cfg.Log.File)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $XDG_CONFIG_HOME/automark/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// openRepo loads the document repository at the configured location.
func openRepo() (*repo.CRDTRepository, error) {
	return repo.Open(cfg.DocumentPath(), log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
