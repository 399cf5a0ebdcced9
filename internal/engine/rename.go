package engine

import (
	"sync"
	"time"

	"github.com/claudesync/claudesync/internal/syncfs"
)

// renameWindow bounds how long a removed path's content hash is
// remembered waiting for a matching create, per spec.md §9's design note
// on correlating the watcher's (remove, create) pair by content hash.
const renameWindow = 2 * time.Second

// RenameCorrelator upgrades a watcher-produced (remove, create) pair into
// a single synthetic rename when the two events share a content hash
// within renameWindow — generalizing the teacher's move dual-keying in
// buffer.go's addLocked (there: a ChangeMove event synthesizes a delete
// at the old path; here: the reverse, a remove+create pair synthesizes a
// rename) from OneDrive's parentReference-sourced moves to local
// inotify/FSEvents rename detection, which fsnotify surfaces as two
// independent events rather than one atomic move.
type RenameCorrelator struct {
	mu      sync.Mutex
	pending map[string]pendingRemoval // hash -> removal waiting for a match
	root    string
}

type pendingRemoval struct {
	path string
	at   time.Time
}

// NewRenameCorrelator constructs a correlator rooted at the managed
// directory, needed to resolve relative event paths to hashable absolute
// paths for creates.
func NewRenameCorrelator(root string) *RenameCorrelator {
	return &RenameCorrelator{
		pending: make(map[string]pendingRemoval),
		root:    root,
	}
}

// RenamePair is the synthetic event produced when a remove and a create
// are correlated by content hash.
type RenamePair struct {
	OldPath string
	NewPath string
}

// ObserveRemove records a removed path pending a possible matching
// create. lastKnownHash is the hash the path held before removal (from
// the engine's StateMap), since the file is gone and can no longer be
// hashed directly.
func (c *RenameCorrelator) ObserveRemove(path, lastKnownHash string) {
	if lastKnownHash == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[lastKnownHash] = pendingRemoval{path: path, at: time.Now()}
}

// ObserveCreate checks whether a newly created path's content hash
// matches a pending removal within renameWindow. On a match it consumes
// the pending removal and returns the synthetic rename pair; otherwise it
// returns ok=false and the caller should treat the create normally.
func (c *RenameCorrelator) ObserveCreate(newPath string) (RenamePair, bool) {
	hash, err := syncfs.HashFile(c.root + "/" + newPath)
	if err != nil {
		return RenamePair{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()

	removal, ok := c.pending[hash]
	if !ok {
		return RenamePair{}, false
	}

	delete(c.pending, hash)

	return RenamePair{OldPath: removal.path, NewPath: newPath}, true
}

// evictExpiredLocked drops pending removals older than renameWindow, so a
// content hash from long ago never incorrectly matches an unrelated new
// file. Caller must hold c.mu.
func (c *RenameCorrelator) evictExpiredLocked() {
	now := time.Now()

	for hash, removal := range c.pending {
		if now.Sub(removal.at) > renameWindow {
			delete(c.pending, hash)
		}
	}
}
