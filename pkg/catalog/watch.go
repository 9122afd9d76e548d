package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Store when one of its catalog files changes on disk.
// Editors and Store.Save both replace files via rename, so events are
// debounced before reloading.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func()
}

// NewWatcher watches the store directory. onReload, if set, runs after each
// successful reload.
func NewWatcher(store *Store, debounce time.Duration, onReload func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Dir(), err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{store: store, watcher: fw, debounce: debounce, onReload: onReload}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	files := w.store.FileNames()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !slices.Contains(files, filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn("catalog watcher error", "error", err)
		case <-timer.C:
			if err := w.store.Reload(); err != nil {
				w.store.logger.Error("catalog reload failed", "error", err)
				continue
			}
			w.store.logger.Info("catalogs reloaded from disk")
			if w.onReload != nil {
				w.onReload()
			}
		}
	}
}
