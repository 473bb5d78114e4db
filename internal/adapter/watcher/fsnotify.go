// Package watcher reloads the index when its artifacts change on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"kbrag/internal/adapter/vectorindex"
)

// IndexWatcher watches the two artifacts of a local index.
type IndexWatcher struct {
	watcher  *fsnotify.Watcher
	names    map[string]bool
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// NewIndexWatcher creates a watcher for the index at base, which must be a
// local path. Events are coalesced for debounce before a reload.
func NewIndexWatcher(base string, debounce time.Duration, logger *slog.Logger) (*IndexWatcher, error) {
	if strings.Contains(base, "://") && !strings.HasPrefix(base, "file://") {
		return nil, fmt.Errorf("watching requires a local index path, got %s", base)
	}
	base = strings.TrimPrefix(base, "file://")
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	vec, docs := vectorindex.ArtifactURLs(abs)
	return &IndexWatcher{
		watcher:  w,
		names:    map[string]bool{vec: true, docs: true},
		dir:      filepath.Dir(abs),
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Run calls reload after the artifacts change until ctx is done. Reload
// failures are logged and the previous index stays in place.
func (w *IndexWatcher) Run(ctx context.Context, reload func(context.Context) error) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.names[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			if err := reload(ctx); err != nil {
				w.logger.Error("index reload failed", "error", err)
				continue
			}
			w.logger.Info("index reloaded", "dir", w.dir)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *IndexWatcher) Close() error {
	return w.watcher.Close()
}
