package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/claudesync/claudesync/internal/conflict"
	"github.com/claudesync/claudesync/internal/rules"
	"github.com/claudesync/claudesync/internal/syncfs"
)

// RemoteStore is the engine's view of the server file-sync service (C12),
// kept as a narrow interface so the engine doesn't depend on the
// websocket transport directly — internal/server/syncsvc's client-facing
// counterpart, or a test double, can satisfy it.
type RemoteStore interface {
	// Stat returns the server's current version for path: remote content
	// hash, the shared base hash this client last synced from, and
	// whether the server has any version of path at all.
	Stat(ctx context.Context, path string) (remoteHash, baseHash string, exists bool, err error)
	// Download fetches path's current remote bytes without any local
	// side effects.
	Download(ctx context.Context, path string) ([]byte, error)
	// Upload pushes local bytes for path, becoming the new remote version.
	Upload(ctx context.Context, path string, content []byte) error
	// Delete tombstones path on the server.
	Delete(ctx context.Context, path string) error
}

// Action is the per-file sync decision sync_file computes in step 4 of
// spec.md §4.9.
type Action int

const (
	ActionNone Action = iota
	ActionUpload
	ActionDownload
	ActionResolve
)

// Config wires the engine's root directory and conflict-resolution
// defaults.
type Config struct {
	Root        string
	ConflictDir string
}

// Engine orchestrates the watcher → debounce → rule filter → sync
// decision → transfer → conflict pipeline of spec.md §4.9. Startup
// consumes a credential bundle (held by the caller via internal/tokenstore
// and passed through RemoteStore's auth plumbing, out of the engine's
// concerns); the rule engine, resolver, and remote store are passed in
// by the caller.
type Engine struct {
	config   Config
	rules    *rules.Engine
	scanner  *syncfs.Scanner
	resolver *conflict.Resolver
	remote   RemoteStore
	state    *StateMap
	logger   *slog.Logger
}

// New constructs an Engine. rulesEngine, resolver, and remote are
// required collaborators; the scanner is always built from rulesEngine.
func New(config Config, rulesEngine *rules.Engine, resolver *conflict.Resolver, remote RemoteStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config:   config,
		rules:    rulesEngine,
		scanner:  syncfs.NewScanner(rulesEngine, logger),
		resolver: resolver,
		remote:   remote,
		state:    NewStateMap(),
		logger:   logger,
	}
}

// State exposes the engine's per-path state map for status reporting.
func (e *Engine) State() *StateMap {
	return e.state
}

// SyncFile implements spec.md §4.9's sync_file: filter, hash, compare
// against the server, decide an action, execute it, and record the
// resulting state atomically.
func (e *Engine) SyncFile(ctx context.Context, relPath string) error {
	absPath := filepath.Join(e.config.Root, relPath)

	if !e.rules.ShouldSync(relPath, fileTypeOf(relPath)) {
		e.logger.Debug("engine: path excluded by rules", "path", relPath)
		return nil
	}

	e.state.Transition(relPath, StatusSyncing, "", "", "")

	localHash, err := syncfs.HashFile(absPath)
	missingLocal := errors.Is(err, os.ErrNotExist)

	if err != nil && !missingLocal {
		wrapped := classify("hashing", fmt.Errorf("hashing %s: %w", relPath, err))
		e.fail(relPath, wrapped)
		return wrapped
	}

	remoteHash, baseHash, exists, err := e.remote.Stat(ctx, relPath)
	if err != nil {
		wrapped := classify("remote", fmt.Errorf("querying remote state for %s: %w", relPath, err))
		e.fail(relPath, wrapped)
		return wrapped
	}

	action := decideAction(localHash, remoteHash, baseHash, exists, missingLocal)

	switch action {
	case ActionNone:
		e.state.Transition(relPath, StatusSynced, localHash, remoteHash, "")
		return nil

	case ActionUpload:
		return e.upload(ctx, relPath, absPath, localHash)

	case ActionDownload:
		return e.download(ctx, relPath, absPath, remoteHash)

	default:
		return e.ResolveAndSync(ctx, relPath, localHash, remoteHash)
	}
}

// decideAction implements spec.md §4.9 step 4 precisely: equal → none;
// remote absent → upload; local==base (remote moved on) → download; both
// diverge from base → resolve.
func decideAction(localHash, remoteHash, baseHash string, remoteExists, localMissing bool) Action {
	if localMissing {
		return ActionDownload
	}

	if !remoteExists {
		return ActionUpload
	}

	if localHash == remoteHash {
		return ActionNone
	}

	if baseHash != "" && localHash == baseHash {
		return ActionDownload
	}

	return ActionResolve
}

func (e *Engine) upload(ctx context.Context, relPath, absPath, localHash string) error {
	content, err := os.ReadFile(absPath)
	if err != nil {
		wrapped := classify("file-io", err)
		e.fail(relPath, wrapped)
		return wrapped
	}

	if err := e.remote.Upload(ctx, relPath, content); err != nil {
		wrapped := classify("remote", err)
		e.fail(relPath, wrapped)
		return wrapped
	}

	e.state.Transition(relPath, StatusSynced, localHash, localHash, "")

	return nil
}

func (e *Engine) download(ctx context.Context, relPath, absPath, remoteHash string) error {
	content, err := e.remote.Download(ctx, relPath)
	if err != nil {
		wrapped := classify("remote", err)
		e.fail(relPath, wrapped)
		return wrapped
	}

	if err := atomicWriteFile(absPath, content); err != nil {
		wrapped := classify("file-io", err)
		e.fail(relPath, wrapped)
		return wrapped
	}

	e.state.Transition(relPath, StatusSynced, remoteHash, remoteHash, "")

	return nil
}

// ResolveAndSync implements spec.md §4.9's resolve_and_sync: read local
// bytes, fetch remote bytes (no side effects), resolve as modify-modify.
// Merged content is written atomically then uploaded; Conflict content
// is written to <path>.conflict and the path's status becomes conflict.
func (e *Engine) ResolveAndSync(ctx context.Context, relPath, localHash, remoteHash string) error {
	absPath := filepath.Join(e.config.Root, relPath)

	localContent, err := os.ReadFile(absPath)
	if err != nil {
		wrapped := classify("file-io", err)
		e.fail(relPath, wrapped)
		return wrapped
	}

	remoteContent, err := e.remote.Download(ctx, relPath)
	if err != nil {
		wrapped := classify("remote", err)
		e.fail(relPath, wrapped)
		return wrapped
	}

	fileType := fileTypeOf(relPath)

	res, err := e.resolver.Resolve(fileType, localContent, remoteContent, nil, conflict.KindModifyModify)
	if err != nil {
		// Error case per spec.md §4.9: apply default strategy; if still
		// conflicted, escalate (handled uniformly by the switch below).
		res = e.resolver.ApplyDefaultStrategy(localContent, remoteContent)
	}

	switch res.Outcome {
	case conflict.OutcomeMerged, conflict.OutcomeNoConflict:
		if err := atomicWriteFile(absPath, res.Content); err != nil {
			wrapped := classify("file-io", err)
			e.fail(relPath, wrapped)
			return wrapped
		}

		if err := e.remote.Upload(ctx, relPath, res.Content); err != nil {
			wrapped := classify("remote", err)
			e.fail(relPath, wrapped)
			return wrapped
		}

		mergedHash, hashErr := syncfs.HashFile(absPath)
		if hashErr != nil {
			wrapped := classify("hashing", hashErr)
			e.fail(relPath, wrapped)
			return wrapped
		}

		e.state.Transition(relPath, StatusSynced, mergedHash, mergedHash, "")

		return nil

	default: // OutcomeConflict
		conflictPath := absPath + ".conflict"
		if err := atomicWriteFile(conflictPath, res.Content); err != nil {
			wrapped := classify("file-io", err)
			e.fail(relPath, wrapped)
			return wrapped
		}

		e.state.Transition(relPath, StatusConflict, localHash, remoteHash, "unresolved merge conflict")

		e.logger.Warn("engine: conflict materialized", "path", relPath, "marker", conflictPath)

		return nil
	}
}

func (e *Engine) fail(relPath string, err error) {
	e.state.Transition(relPath, StatusFailed, "", "", err.Error())
	e.logger.Error("engine: sync_file failed", "path", relPath, "error", err)
}

// RunFullSync implements spec.md §4.9's run_full_sync: scan the managed
// root, run SyncFile for every discovered path, and accumulate a Summary.
func (e *Engine) RunFullSync(ctx context.Context) (Summary, error) {
	files, err := e.scanner.Scan(e.config.Root)
	if err != nil {
		return Summary{}, fmt.Errorf("engine: scanning %s: %w", e.config.Root, err)
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return Summarize(e.state.Snapshot()), ctx.Err()
		}

		if err := e.SyncFile(ctx, f.Path); err != nil {
			e.logger.Warn("engine: full sync continuing past error", "path", f.Path, "error", err)
		}
	}

	return Summarize(e.state.Snapshot()), nil
}

// StartIncrementalSync implements spec.md §4.9's start_incremental_sync:
// consume the debounced event stream and dispatch by event type. Rename
// is not directly observable from fsnotify (it surfaces as a remove/create
// pair), and the pair is handled as an independent remove and create;
// the RenameCorrelator in rename.go is not consulted here.
func (e *Engine) StartIncrementalSync(ctx context.Context, events <-chan syncfs.RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}

			e.dispatchEvent(ctx, ev)
		}
	}
}

func (e *Engine) dispatchEvent(ctx context.Context, ev syncfs.RawEvent) {
	switch ev.Type {
	case syncfs.EventCreated, syncfs.EventModified:
		if err := e.SyncFile(ctx, ev.Path); err != nil {
			e.logger.Warn("engine: incremental sync_file failed", "path", ev.Path, "error", err)
		}

	case syncfs.EventRemoved:
		if err := e.remote.Delete(ctx, ev.Path); err != nil {
			e.fail(ev.Path, classify("remote", err))
			return
		}

		e.state.Delete(ev.Path)
	}
}

func fileTypeOf(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}

	return ext[1:]
}

// atomicWriteFile writes data to path via a same-directory temp file and
// rename, matching the teacher's tokenfile-style crash safety and
// spec.md §4.9's "write merged bytes atomically (temp file + rename)".
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("engine: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sync-*.tmp")
	if err != nil {
		return fmt.Errorf("engine: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()
	success := false

	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: writing %s: %w", tmpPath, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: syncing %s: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: closing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("engine: renaming %s to %s: %w", tmpPath, path, err)
	}

	success = true

	return nil
}
