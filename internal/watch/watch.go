// Package watch triggers a refresh when result files are written to the
// results directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultSettleDelay = 500 * time.Millisecond

type RefreshFunc func(ctx context.Context) error

// Watcher collapses bursts of file events into a single refresh. Every
// relevant event restarts the settle timer, the refresh runs once the
// directory has been quiet for the settle delay.
type Watcher struct {
	dir         string
	refresh     RefreshFunc
	settleDelay time.Duration

	log *slog.Logger
}

type Option func(*Watcher)

func WithSettleDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settleDelay = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

func New(dir string, refresh RefreshFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dir:         dir,
		refresh:     refresh,
		settleDelay: DefaultSettleDelay,
		log:         slog.Default(),
	}

	for _, o := range opts {
		o(w)
	}

	return w
}

// Run watches the directory until ctx is cancelled. A missing directory is
// created first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating results directory %s: %w", w.dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.dir); err != nil {
		return err
	}

	w.log.Info("Watching results directory", "dir", w.dir, "settleDelay", w.settleDelay)

	timer := time.NewTimer(w.settleDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fw, event.Name); err != nil {
						w.log.Warn("Unable to watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}

			if !Relevant(event) {
				continue
			}

			w.log.Debug("Result file changed", "file", event.Name, "op", event.Op.String())

			timer.Reset(w.settleDelay)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.log.Warn("File watcher error", "error", err)
		case <-timer.C:
			go w.runRefresh(ctx)
		}
	}
}

func (w *Watcher) runRefresh(ctx context.Context) {
	if err := w.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Warn("Refresh after file change failed", "error", err)
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("Skipping unreadable path", "source", path, "error", err)
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}

		return nil
	})
}

// Relevant reports whether an event signals a new or changed json file.
func Relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	return strings.EqualFold(filepath.Ext(event.Name), ".json")
}
