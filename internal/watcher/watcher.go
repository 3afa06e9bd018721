// Package watcher tracks which content-tree paths have changed recently, so
// the HTTP smart server can hand finish-change a short list of paths worth
// rescanning instead of forcing a full scan (spec §6 `/changes`, `/updated`;
// §9 "Inotify watcher").
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher bulk-scans a root directory on attach, then watches it for
// mutation events, recording the absolute path and observation timestamp of
// everything it sees change.
type Watcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	changes map[string]float64

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// New starts watching root (recursively, one fsnotify watch per directory),
// after bulk-scanning it so every pre-existing directory counts as "changed"
// as of attach time; pre-existing files are not recorded. now is the timestamp to stamp the initial bulk scan with.
func New(root string, now float64, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start fsnotify watcher: %w", err)
	}

	w := &Watcher{
		logger:  logger,
		changes: make(map[string]float64),
		fsw:     fsw,
		done:    make(chan struct{}),
	}

	dirs, err := walkDirs(root)
	if err != nil {
		fsw.Close()

		return nil, err
	}

	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()

			return nil, fmt.Errorf("watch %q: %w", dir, err)
		}
	}

	w.bulkScan(dirs, now)

	go w.run()

	return w, nil
}

func walkDirs(root string) ([]string, error) {
	var dirs []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			dirs = append(dirs, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", root, err)
	}

	return dirs, nil
}

func (w *Watcher) bulkScan(dirs []string, now float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, dir := range dirs {
		w.changes[dir] = now
	}
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.record(event.Name)

			if event.Op&fsnotify.Create != 0 {
				w.watchIfDir(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Error("watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) watchIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}

	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("failed to watch new directory", "path", path, "error", err)
	}
}

// record stamps path with the current wall-clock time (stampNow).
func (w *Watcher) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.changes[path] = stampNow()
}

// Changes returns every path observed to have changed, regardless of age.
func (w *Watcher) Changes(context.Context) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.changes))
	for p := range w.changes {
		out = append(out, p)
	}

	return out
}

// Updated prunes entries older than oldestMirrorTimestamp, the oldest
// timestamp any receiving mirror still needs (spec §9: "prune entries older
// than the oldest registered mirror timestamp").
func (w *Watcher) Updated(_ context.Context, oldestMirrorTimestamp float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for p, ts := range w.changes {
		if ts < oldestMirrorTimestamp {
			delete(w.changes, p)
		}
	}
}

func stampNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)

	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}

	return nil
}
