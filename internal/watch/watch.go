// Package watch re-runs processing when snapshot files appear.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config controls when runs are triggered.
type Config struct {
	// Root is watched recursively; new subdirectories are added as they appear.
	Root string

	// Glob filters file events by base name. Empty matches everything.
	Glob string

	// Settle is how long the tree must be quiet after an event before a run.
	Settle time.Duration

	// Rescan triggers a run on a fixed period. 0 disables.
	Rescan time.Duration
}

// RunFunc performs one processing run.
type RunFunc func(ctx context.Context) error

// Watcher serializes runs: events only schedule the next one, and a run never
// starts while another is in progress.
type Watcher struct {
	cfg Config
	run RunFunc
}

// New creates a Watcher.
func New(cfg Config, run RunFunc) *Watcher {
	return &Watcher{cfg: cfg, run: run}
}

// Run does one run immediately and then one after every settled burst of
// events or rescan tick. It returns nil when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addTree(fsw, w.cfg.Root); err != nil {
		return err
	}
	slog.Info("watch: watching for snapshots", "root", w.cfg.Root, "settle", w.cfg.Settle, "rescan", w.cfg.Rescan)

	w.runOnce(ctx)

	settle := time.NewTimer(w.cfg.Settle)
	stopTimer(settle)
	defer settle.Stop()

	var rescan <-chan time.Time
	if w.cfg.Rescan > 0 {
		ticker := time.NewTicker(w.cfg.Rescan)
		defer ticker.Stop()
		rescan = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(fsw, event) {
				continue
			}
			stopTimer(settle)
			settle.Reset(w.cfg.Settle)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch: watcher error", "err", err)

		case <-settle.C:
			w.runOnce(ctx)

		case <-rescan:
			w.runOnce(ctx)
		}
	}
}

// relevant reports whether event should schedule a run. New directories are
// added to the watch and always count.
func (w *Watcher) relevant(fsw *fsnotify.Watcher, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addTree(fsw, event.Name); err != nil {
				slog.Warn("watch: cannot watch new directory", "path", event.Name, "err", err)
			}
			return true
		}
	}
	if w.cfg.Glob == "" {
		return true
	}
	ok, _ := filepath.Match(w.cfg.Glob, filepath.Base(event.Name))
	return ok
}

func (w *Watcher) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("watch: run failed, retrying on next trigger", "err", err)
	}
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
