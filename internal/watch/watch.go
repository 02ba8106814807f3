// Package watch reruns the static verification tasks when the source tree
// changes. Bursts of filesystem events are debounced into a single rerun.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 300 * time.Millisecond

// skipDirs are tree names that never hold watched sources.
var skipDirs = map[string]bool{
	".git": true, ".venv": true, ".venvs": true, ".pipeforge": true,
	"__pycache__": true, ".mypy_cache": true, ".pytest_cache": true,
	"dist": true, "build": true,
}

// Watcher observes a set of directory trees and invokes OnChange after the
// tree has been quiet for the debounce interval. OnChange errors are logged
// and the watch continues; only infrastructure failures stop it.
type Watcher struct {
	Dirs     []string
	Debounce time.Duration
	Log      *zap.Logger

	OnChange func(ctx context.Context) error
}

func New(dirs []string, log *zap.Logger, onChange func(ctx context.Context) error) (*Watcher, error) {
	if len(dirs) == 0 {
		return nil, errors.New("no directories to watch")
	}
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			return nil, fmt.Errorf("watch dir must be absolute (got %q)", d)
		}
	}
	if onChange == nil {
		return nil, errors.New("nil change handler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{Dirs: dirs, Debounce: defaultDebounce, Log: log, OnChange: onChange}, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range w.Dirs {
		if err := addTree(fsw, dir); err != nil {
			return err
		}
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("watch event channel closed")
			}
			if !relevant(ev) {
				continue
			}
			// New subdirectories join the watch set.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fsw, ev.Name); err != nil {
						w.Log.Warn("cannot watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			w.Log.Debug("change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(debounce)
			pending = true

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watch error channel closed")
			}
			w.Log.Warn("watch error", zap.Error(err))

		case <-timer.C:
			pending = false
			w.Log.Info("rerunning checks")
			if err := w.OnChange(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.Log.Warn("checks failed", zap.Error(err))
			} else {
				w.Log.Info("checks passed")
			}
		}
	}
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// relevant filters editor noise and derived files out of the event stream.
func relevant(ev fsnotify.Event) bool {
	if ev.Op.Has(fsnotify.Chmod) && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if skipDirs[base] {
		return false
	}
	if strings.HasSuffix(base, ".pyc") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, "~") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(ev.Name), "/") {
		if skipDirs[part] {
			return false
		}
	}
	return true
}
