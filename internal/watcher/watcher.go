// Package watcher reports debounced changes to a fixed set of files, such
// as a corpus export that is re-imported whenever it is rewritten.
//
// fsnotify is used when available. The parent directories are watched
// rather than the files themselves so that editors and exporters which
// replace a file by rename are still seen. Where fsnotify cannot start
// (some network mounts and container volumes) the watcher polls file size
// and modification time instead.
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

// Operation is the kind of change observed on a file.
type Operation int

const (
	// OpCreate means the file appeared.
	OpCreate Operation = iota
	// OpModify means the file's content changed.
	OpModify
	// OpDelete means the file was removed or renamed away.
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change.
type FileEvent struct {
	// Path is the absolute path of the watched file.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a FileWatcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the stat interval in polling mode.
	// Default: 2s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 500 * time.Millisecond,
		PollInterval:   2 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// FileWatcher watches a fixed set of files.
type FileWatcher struct {
	files     map[string]struct{}
	opts      Options
	debouncer *Debouncer
	fs        *fsnotify.Watcher // nil when polling
	errors    chan error

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a watcher for paths. The files need not exist yet, but
// their directories must.
func New(paths []string, opts Options) (*FileWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("watcher: no files to watch")
	}
	opts = opts.WithDefaults()

	w := &FileWatcher{
		files:     make(map[string]struct{}, len(paths)),
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watcher: resolve %s: %w", p, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("watcher: %s is not a directory", dir)
		}
	}

	if opts.ForcePolling {
		return w, nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		for dir := range dirs {
			if err = fsw.Add(dir); err != nil {
				_ = fsw.Close()
				break
			}
		}
	}
	if err != nil {
		slog.Warn("fsnotify_unavailable_polling", slog.String("error", err.Error()))
		return w, nil
	}
	w.fs = fsw
	return w, nil
}

// Polling reports whether the watcher fell back to stat polling.
func (w *FileWatcher) Polling() bool {
	return w.fs == nil
}

// Start watches until Stop is called or ctx is cancelled. It returns nil
// after Stop and ctx.Err() after cancellation.
func (w *FileWatcher) Start(ctx context.Context) error {
	if w.fs == nil {
		return w.poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *FileWatcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if _, ok := w.files[path]; !ok {
		return
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

// fileState is what polling compares between ticks.
type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
}

func statFile(path string) (fileState, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fileState{}, nil
	}
	if err != nil {
		return fileState{}, err
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime()}, nil
}

func (w *FileWatcher) poll(ctx context.Context) error {
	last := make(map[string]fileState, len(w.files))
	for path := range w.files {
		st, err := statFile(path)
		if err != nil {
			return fmt.Errorf("watcher: stat %s: %w", path, err)
		}
		last[path] = st
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			for path, prev := range last {
				cur, err := statFile(path)
				if err != nil {
					w.emitError(err)
					continue
				}
				last[path] = cur

				var op Operation
				switch {
				case !prev.exists && cur.exists:
					op = OpCreate
				case prev.exists && !cur.exists:
					op = OpDelete
				case cur.exists && (cur.size != prev.size || !cur.modTime.Equal(prev.modTime)):
					op = OpModify
				default:
					continue
				}
				w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
			}
		}
	}
}

func (w *FileWatcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		slog.Warn("watch_error_dropped", slog.String("error", err.Error()))
	}
}

// Events returns debounced batches of changes. It is closed by Stop.
func (w *FileWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watch errors.
func (w *FileWatcher) Errors() <-chan error {
	return w.errors
}

// Stop ends watching and closes Events. Safe to call multiple times.
func (w *FileWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.debouncer.Stop()
		if w.fs != nil {
			err = w.fs.Close()
		}
	})
	return err
}
