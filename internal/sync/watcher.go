package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchEvent is one debounced filesystem change under the sync root.
type WatchEvent struct {
	Path      string  // absolute path
	RelPath   string  // relative to the sync root
	Op        WatchOp // operation type
	Timestamp time.Time
}

// WatchOp is the kind of filesystem operation.
type WatchOp int

const (
	// OpCreate indicates a file or directory was created.
	OpCreate WatchOp = iota
	// OpWrite indicates a file was modified.
	OpWrite
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away.
	OpRename
)

func (o WatchOp) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Watcher watches the sync root for local changes, debouncing rapid
// event bursts per path before emitting.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	events   chan WatchEvent
	errors   chan error
	debounce time.Duration

	mu      gosync.Mutex
	pending map[string]*debounceEntry
}

type debounceEntry struct {
	event WatchEvent
	timer *time.Timer
}

// NewWatcher creates a watcher rooted at root. debounce is how long a
// path must stay quiet before its latest event is emitted.
func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     absRoot,
		watcher:  fsWatcher,
		events:   make(chan WatchEvent, 100),
		errors:   make(chan error, 10),
		debounce: debounce,
		pending:  make(map[string]*debounceEntry),
	}

	if err := w.addRecursive(absRoot); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("add recursive watches: %w", err)
	}
	return w, nil
}

// Events returns the channel of debounced events.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start pumps raw notifications into the debouncer. Blocks until the
// context is cancelled or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
				// errors channel full, drop
			}
		}
	}
}

// Stop cancels pending timers and closes the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	for _, entry := range w.pending {
		entry.timer.Stop()
	}
	w.pending = make(map[string]*debounceEntry)
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if w.shouldIgnore(path) {
		return
	}

	var op WatchOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		// New directories need their own watch.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addRecursive(path); err != nil {
				select {
				case w.errors <- fmt.Errorf("watch new dir %s: %w", path, err):
				default:
				}
			}
		}
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// chmod and friends
		return
	}

	relPath, err := filepath.Rel(w.root, path)
	if err != nil {
		relPath = path
	}

	w.debounceEvent(WatchEvent{
		Path:      path,
		RelPath:   relPath,
		Op:        op,
		Timestamp: time.Now(),
	})
}

// debounceEvent resets the per-path timer; the latest operation wins.
func (w *Watcher) debounceEvent(event WatchEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.pending[event.Path]; ok {
		entry.timer.Stop()
		entry.event = event
		entry.timer = time.AfterFunc(w.debounce, func() { w.emit(event.Path) })
		return
	}
	w.pending[event.Path] = &debounceEntry{
		event: event,
		timer: time.AfterFunc(w.debounce, func() { w.emit(event.Path) }),
	}
}

func (w *Watcher) emit(path string) {
	w.mu.Lock()
	entry, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	select {
	case w.events <- entry.event:
	default:
		// Channel full: drop the oldest event and retry once.
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- entry.event:
		default:
		}
	}
}

// shouldIgnore filters sync bookkeeping files and the usual OS and
// editor droppings. Regular dotfiles are synced.
func (w *Watcher) shouldIgnore(path string) bool {
	relPath, err := filepath.Rel(w.root, path)
	if err != nil {
		relPath = path
	}

	for _, part := range strings.Split(relPath, string(filepath.Separator)) {
		// The revision cache, its WAL siblings, and in-flight download
		// temp files all share this prefix.
		if strings.HasPrefix(part, ".maestral") {
			return true
		}
		// Office lock files.
		if strings.HasPrefix(part, "~$") {
			return true
		}
		if strings.HasSuffix(part, "~") {
			return true
		}
		switch strings.ToLower(part) {
		case ".ds_store", "desktop.ini", "thumbs.db", ".dropbox.attr":
			return true
		}
	}
	return false
}

// addRecursive watches a directory and everything below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
