// Package watch produces raw filesystem events for the dispatch engine. It
// wraps fsnotify with recursive watch registration, rescans of directories
// created before their watch landed, and exponential backoff on watcher
// errors. Events carry no ordering guarantee stronger than OS delivery order;
// deduplication is the coalescer's job.
package watch

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

// EventType classifies a raw filesystem notification.
type EventType int

const (
	Create EventType = iota
	Write
	Remove
	DirCreate
	DirRemove
)

// String returns the event type name for log lines.
func (t EventType) String() string {
	switch t {
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	case DirCreate:
		return "dir-create"
	case DirRemove:
		return "dir-remove"
	default:
		return "unknown"
	}
}

// Event is one raw filesystem notification: a type and an absolute path.
type Event struct {
	Type EventType
	Path string
}

// Watcher error backoff bounds. Sustained errors (e.g. kernel buffer
// overflow) back off exponentially instead of spinning.
const (
	errInitBackoff = 100 * time.Millisecond
	errMaxBackoff  = 10 * time.Second
	errBackoffMult = 2
)

// Watcher recursively watches a directory tree and emits Events. fsnotify
// watches are per-directory, so Watcher maintains the registration set itself
// and uses it to tell a removed directory apart from a removed file (the
// path is already gone when the event arrives, so it cannot be stat'ed).
type Watcher struct {
	root    string
	matcher *Matcher
	logger  *slog.Logger

	fsw *fsnotify.Watcher

	mu   sync.Mutex
	dirs map[string]bool
}

// New creates a Watcher for root. The matcher filters events before they are
// emitted; matched paths never reach the coalescer.
func New(root string, matcher *Matcher, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		matcher: matcher,
		logger:  logger,
		fsw:     fsw,
		dirs:    make(map[string]bool),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run pumps events into out until ctx is canceled. It owns the fsnotify
// watcher lifecycle; the out channel is closed on return.
func (w *Watcher) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)
	defer w.fsw.Close()

	backoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			w.handle(ctx, fsEvent, out)

			backoff = errInitBackoff

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}

			backoff *= errBackoffMult
			if backoff > errMaxBackoff {
				backoff = errMaxBackoff
			}
		}
	}
}

// handle classifies one fsnotify event and emits zero or more Events.
func (w *Watcher) handle(ctx context.Context, fsEvent fsnotify.Event, out chan<- Event) {
	// Pure chmod events are noise — mode changes are not mirrored.
	if fsEvent.Has(fsnotify.Chmod) && !fsEvent.Has(fsnotify.Create) && !fsEvent.Has(fsnotify.Write) {
		return
	}

	if w.matcher != nil && w.matcher.Ignored(fsEvent.Name) {
		w.logger.Debug("watch: path ignored", slog.String("path", fsEvent.Name))
		return
	}

	switch {
	case fsEvent.Has(fsnotify.Create):
		w.handleCreate(ctx, fsEvent.Name, out)

	case fsEvent.Has(fsnotify.Write):
		w.trySend(ctx, out, Event{Type: Write, Path: fsEvent.Name})

	case fsEvent.Has(fsnotify.Remove) || fsEvent.Has(fsnotify.Rename):
		w.handleRemove(ctx, fsEvent.Name, out)
	}
}

// handleCreate stats the new path; directories get a watch plus a rescan for
// files that appeared before the watch was registered.
func (w *Watcher) handleCreate(ctx context.Context, fsPath string, out chan<- Event) {
	info, err := os.Stat(fsPath)
	if err != nil {
		// Gone already — the matching Remove event will follow.
		w.logger.Debug("stat failed for created path",
			slog.String("path", fsPath),
			slog.String("error", err.Error()),
		)

		return
	}

	if !info.IsDir() {
		w.trySend(ctx, out, Event{Type: Create, Path: fsPath})
		return
	}

	w.trySend(ctx, out, Event{Type: DirCreate, Path: fsPath})

	if err := w.addDir(fsPath); err != nil {
		w.logger.Warn("failed to watch new directory",
			slog.String("path", fsPath),
			slog.String("error", err.Error()),
		)
	}

	w.scanNewDirectory(ctx, fsPath, out)
}

// handleRemove distinguishes a removed directory (was in the registration
// set) from a removed file.
func (w *Watcher) handleRemove(ctx context.Context, fsPath string, out chan<- Event) {
	w.mu.Lock()
	wasDir := w.dirs[fsPath]
	delete(w.dirs, fsPath)
	w.mu.Unlock()

	if wasDir {
		w.trySend(ctx, out, Event{Type: DirRemove, Path: fsPath})
		return
	}

	w.trySend(ctx, out, Event{Type: Remove, Path: fsPath})
}

// scanNewDirectory emits Create events for entries already present in a
// just-created directory. Files written between the mkdir and the watch
// registration would otherwise be lost; duplicates are harmless because the
// coalescer deduplicates per path.
func (w *Watcher) scanNewDirectory(ctx context.Context, dirPath string, out chan<- Event) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		w.logger.Debug("scan of new directory failed",
			slog.String("path", dirPath),
			slog.String("error", err.Error()),
		)

		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		entryPath := filepath.Join(dirPath, entry.Name())

		if w.matcher != nil && w.matcher.Ignored(entryPath) {
			continue
		}

		if entry.IsDir() {
			w.trySend(ctx, out, Event{Type: DirCreate, Path: entryPath})

			if err := w.addDir(entryPath); err != nil {
				w.logger.Warn("failed to watch nested directory",
					slog.String("path", entryPath),
					slog.String("error", err.Error()),
				)
			}

			w.scanNewDirectory(ctx, entryPath, out)

			continue
		}

		w.trySend(ctx, out, Event{Type: Create, Path: entryPath})
	}
}

// addRecursive walks root and registers a watch on every directory.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("watch: walking %s: %w", p, err)
		}

		if !d.IsDir() {
			return nil
		}

		if p != root && w.matcher != nil && w.matcher.Ignored(p) {
			return filepath.SkipDir
		}

		return w.addDir(p)
	})
}

// addDir registers one directory with fsnotify and the internal set.
func (w *Watcher) addDir(p string) error {
	if err := w.fsw.Add(p); err != nil {
		return fmt.Errorf("watch: adding %s: %w", p, err)
	}

	w.mu.Lock()
	w.dirs[p] = true
	w.mu.Unlock()

	return nil
}

// trySend delivers an event unless the context is canceled.
func (w *Watcher) trySend(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
