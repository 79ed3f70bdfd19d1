package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/automark/internal/syncengine"
)

var syncServerURL string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the configured server once",
	Long: `Run one sync session against the server and exit.

The session exchanges change histories until both sides hold the same
document. Transport failures are retried with backoff; a protocol
mismatch fails immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		url := syncServerURL
		if url == "" {
			url = cfg.Sync.ServerURL
		}

		engine := syncengine.NewEngine(r, cfg.Sync.DocumentID, syncengine.Options{
			MaxRetries: cfg.Sync.MaxRetries,
		}, log)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout())
		defer cancel()

		start := time.Now()
		summary, err := engine.Sync(ctx, url)
		if err != nil {
			return err
		}
		recv := summary.Received
		fmt.Printf("Synced with %s in %v\n", url, time.Since(start).Round(time.Millisecond))
		fmt.Printf("  sent %d change(s), received: %d added, %d changed, %d deleted\n",
			summary.Sent, recv.Added, recv.Changed, recv.Deleted)
		return nil
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a sync server",
	Long: `Serve the local document to peers over websockets.

Peers that sync with this server converge with it, and through it with
each other. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := syncengine.NewServer(r, cfg.Sync.DocumentID, log)
		if err := srv.Start(ctx, serveAddr); err != nil {
			return err
		}
		fmt.Printf("Sync server listening on %s (Ctrl-C to stop)\n", srv.Addr())
		<-ctx.Done()
		srv.Wait()
		return nil
	},
}

var autosyncCmd = &cobra.Command{
	Use:   "autosync",
	Short: "Sync continuously in the background",
	Long: `Watch the document for local edits and sync whenever it changes,
plus on a periodic interval. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		url := syncServerURL
		if url == "" {
			url = cfg.Sync.ServerURL
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine := syncengine.NewEngine(r, cfg.Sync.DocumentID, syncengine.Options{
			MaxRetries: cfg.Sync.MaxRetries,
		}, log)
		watcher := syncengine.NewWatcher(engine, cfg.DocumentPath(), url, cfg.AutoSyncInterval(), log)

		fmt.Printf("Autosync running against %s (Ctrl-C to stop)\n", url)
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncServerURL, "server", "", "sync server URL (overrides config)")
	autosyncCmd.Flags().StringVar(&syncServerURL, "server", "", "sync server URL (overrides config)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8765", "listen address")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(autosyncCmd)
}
