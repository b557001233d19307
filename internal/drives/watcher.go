package drives

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes the drive list when entries appear or disappear under
// the mount root. Bursts of events collapse into one refresh.
type Watcher struct {
	root     string
	refresh  func(ctx context.Context) error
	debounce time.Duration
}

func NewWatcher(root string, refresh func(ctx context.Context) error) *Watcher {
	return &Watcher{root: root, refresh: refresh, debounce: time.Second}
}

// SetDebounce overrides the default debounce interval.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run blocks until ctx is cancelled. If the mount root cannot be watched
// the watcher logs it and idles; the drive list is still refreshed on demand.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("drive watcher unavailable", "error", err)
		<-ctx.Done()
		return nil
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(w.root); err != nil {
		slog.Warn("drive watcher: cannot watch mount root", "root", w.root, "error", err)
		<-ctx.Done()
		return nil
	}
	slog.Info("drive watcher started", "root", w.root)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			slog.Debug("drive watcher: mount change", "path", ev.Name, "op", ev.Op.String())
			if !timer.Stop() && pending {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("drive watcher error", "error", err)

		case <-timer.C:
			pending = false
			if err := w.refresh(ctx); err != nil {
				slog.Warn("drive watcher: refresh", "error", err)
			}
		}
	}
}
