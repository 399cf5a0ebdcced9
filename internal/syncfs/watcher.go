package syncfs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// EventType is the typed filesystem event kind delivered downstream.
// fsnotify renames are split into a (Removed, Created) pair by the caller
// per spec §4.3; FsWatcher itself only reports the raw fsnotify op.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// RawEvent is a single filesystem notification for one path.
type RawEvent struct {
	Path string
	Type EventType
}

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher in production and a fake in tests — mirrors
// onedrive-go's internal/sync FsWatcher interface exactly.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error       { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                   { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error           { return fw.w.Errors }

// Watcher walks the managed root, installs watches on every directory,
// and translates fsnotify events into RawEvents. Directory events
// themselves are dropped per spec §4.3; renames are reported to the
// caller as a (Removed, Created) pair because fsnotify on Linux delivers
// a Rename op for the old path and a Create for the new one as two
// independent events. Neither Watcher, the debouncer, nor the engine's
// sync loop correlates them.
type Watcher struct {
	logger  *slog.Logger
	factory func() (FsWatcher, error)
}

// NewWatcher creates a Watcher backed by a real fsnotify.Watcher.
func NewWatcher(logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		logger: logger,
		factory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Watch blocks, delivering RawEvents on events until ctx is canceled.
func (w *Watcher) Watch(ctx context.Context, root string, events chan<- RawEvent) error {
	fw, err := w.factory()
	if err != nil {
		return fmt.Errorf("syncfs: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := addRecursive(fw, root); err != nil {
		return fmt.Errorf("syncfs: installing watches: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handle(fw, root, ev, events)

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("syncfs: watcher error", "error", err)
		}
	}
}

// handle translates one fsnotify.Event into zero or one RawEvent,
// additionally installing a watch on newly created directories so the
// recursive watch set stays complete.
func (w *Watcher) handle(fw FsWatcher, root string, ev fsnotify.Event, out chan<- RawEvent) {
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		return
	}

	rel = filepath.ToSlash(rel)

	switch {
	case ev.Has(fsnotify.Create):
		if isDir(ev.Name) {
			if addErr := fw.Add(ev.Name); addErr != nil {
				w.logger.Warn("syncfs: failed to watch new directory", "path", rel, "error", addErr)
			}

			return // directory events are dropped, per spec §4.3
		}

		out <- RawEvent{Path: rel, Type: EventCreated}

	case ev.Has(fsnotify.Write):
		if isDir(ev.Name) {
			return
		}

		out <- RawEvent{Path: rel, Type: EventModified}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A removed path can no longer be stat'ed, so a directory
		// removal/rename is reported as EventRemoved just like a file's.
		out <- RawEvent{Path: rel, Type: EventRemoved}
	}
}

func addRecursive(fw FsWatcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort: one unreadable subtree shouldn't abort the whole watch
		}

		if d.IsDir() {
			return fw.Add(path)
		}

		return nil
	})
}

// fsStat is a package-level indirection so tests can stub directory
// detection without touching the real filesystem.
var fsStat = os.Stat

func isDir(path string) bool {
	fi, err := fsStat(path)
	return err == nil && fi.IsDir()
}
