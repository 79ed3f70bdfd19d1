package syncengine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher triggers sync sessions automatically: whenever the document
// file changes on disk (debounced), and on a fixed interval as a
// fallback when no local edits happen.
type Watcher struct {
	engine    *Engine
	docPath   string
	serverURL string
	interval  time.Duration
	debounce  time.Duration
	log       *zap.Logger
}

// NewWatcher creates an autosync watcher for the document at docPath.
func NewWatcher(e *Engine, docPath, serverURL string, interval time.Duration, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watcher{
		engine:    e,
		docPath:   docPath,
		serverURL: serverURL,
		interval:  interval,
		debounce:  2 * time.Second,
		log:       log,
	}
}

// Run watches until ctx is cancelled. It syncs once at startup so a
// replica that was offline catches up immediately.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch the directory, not the file: atomic saves replace the file
	// by rename, which drops a watch placed on the file itself.
	if err := fw.Add(filepath.Dir(w.docPath)); err != nil {
		return err
	}

	w.sync(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.docPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// coalesce bursts of events from one save
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
				fire = debounce.C
			} else {
				debounce.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-fire:
			debounce = nil
			fire = nil
			w.sync(ctx)

		case <-ticker.C:
			w.sync(ctx)
		}
	}
}

func (w *Watcher) sync(ctx context.Context) {
	summary, err := w.engine.Sync(ctx, w.serverURL)
	if err != nil {
		w.log.Warn("autosync failed", zap.Error(err))
		return
	}
	w.log.Info("autosync complete",
		zap.Int("sent", summary.Sent),
		zap.Int("received", summary.Received.Added+summary.Received.Changed+summary.Received.Deleted))
}
