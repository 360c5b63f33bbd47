package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a document must be quiet before it is
// reloaded. Editors often write a file several times per save.
const DefaultDebounce = 200 * time.Millisecond

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the logger for watch events.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher reloads a configuration document whenever it changes on disk.
type Watcher struct {
	path     string
	dir      string
	isDir    bool
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*DocumentResult, error)
	fs       *fsnotify.Watcher
}

// NewWatcher watches the document at path. onChange receives the result
// of LoadDocument after each settled change; it runs on the Run goroutine.
//
// A file is watched through its parent directory so that editors which
// save by rename are still seen.
func NewWatcher(path string, onChange func(*DocumentResult, error), opts ...WatchOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		dir:      filepath.Dir(abs),
		isDir:    info.IsDir(),
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		onChange: onChange,
		fs:       fsw,
	}
	if w.isDir {
		w.dir = abs
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", w.dir, err)
	}
	return w, nil
}

// Run delivers reloads until ctx is cancelled, then closes the underlying
// watcher. Run returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	// Stopped timer; armed on the first relevant event
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("document changed", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "path", w.path, "error", err)

		case <-timer.C:
			res, err := LoadDocument(w.path)
			if err != nil {
				w.logger.Warn("document reload failed", "path", w.path, "error", err)
			} else {
				w.logger.Info("document reloaded", "path", w.path, "problems", res.Problems())
			}
			if w.onChange != nil {
				w.onChange(res, err)
			}
		}
	}
}

// relevant filters events to the watched document. Chmod events are
// ignored.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.isDir {
		return filepath.Ext(event.Name) == ".cue"
	}
	return filepath.Clean(event.Name) == w.path
}
