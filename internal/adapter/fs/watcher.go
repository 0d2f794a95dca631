package fs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports debounced change notifications for a corpus tree.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(root string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default().With("component", "watcher")
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{root: root, debounce: debounce, logger: logger}
}

// Watch calls onChange once per quiet period after filesystem activity
// under root. Calls never overlap; events arriving while onChange runs
// schedule one more call. Watch blocks until ctx is done.
func (w *Watcher) Watch(ctx context.Context, onChange func(ctx context.Context)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if isHidden(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// new subdirectories need their own watch
				if err := w.addTree(fw, ev.Name); err != nil {
					w.logger.Debug("watch new path", "path", ev.Name, "error", err)
				}
			}
			w.logger.Debug("corpus event", "op", ev.Op.String(), "path", ev.Name)
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			onChange(ctx)
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.root {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && isHidden(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$")
}
