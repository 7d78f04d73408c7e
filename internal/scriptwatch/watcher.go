// Package scriptwatch keeps the tool catalog and the semantic index in
// step with the scripts directory. Filesystem events for script files
// are debounced; once the directory has been quiet for the debounce
// period the catalog is regenerated and the index rebuilt.
package scriptwatch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a refresh.
const DefaultDebounce = 500 * time.Millisecond

// RefreshFunc is invoked after a burst of script changes.
type RefreshFunc func(ctx context.Context) error

// Watcher watches a scripts directory tree.
type Watcher struct {
	dir      string
	ext      string
	debounce time.Duration
	refresh  RefreshFunc
	logger   *slog.Logger
}

// New creates a watcher. ext filters which files trigger a refresh.
func New(dir, ext string, debounce time.Duration, refresh RefreshFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		ext:      strings.ToLower(ext),
		debounce: debounce,
		refresh:  refresh,
		logger:   logger.With("component", "scriptwatch"),
	}
}

// Run watches until ctx is cancelled. Directories created after start
// are added as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create scripts dir: %w", err)
	}
	if err := w.addTree(fw, w.dir); err != nil {
		return err
	}
	w.logger.Info("watching scripts", "dir", w.dir, "ext", w.ext, "debounce", w.debounce)

	// fire is nil while no refresh is pending.
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(fw, ev) {
				continue
			}
			w.logger.Debug("script change", "path", ev.Name, "op", ev.Op.String())
			fire = time.After(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-fire:
			fire = nil
			if err := w.refresh(ctx); err != nil {
				w.logger.Error("refresh after script change failed", "error", err)
			}
		}
	}
}

// relevant reports whether ev should schedule a refresh. New
// directories are added to the watch and count as a change.
func (w *Watcher) relevant(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return true
		}
	}
	return strings.EqualFold(filepath.Ext(ev.Name), w.ext)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
