// Package objectstore implements the server's content-addressed blob
// storage: one immutable object per content hash under a user's
// namespace, plus version metadata sidecars and per-conflict backup
// triples. Grounded on original_source/server/src/storage.rs's
// StorageService/StoragePath layout (users/<user>/files/<hash>.data,
// users/<user>/versions/<version-id>.meta,
// users/<user>/conflicts/<conflict-id>/<suffix>.data), reimplemented
// filesystem-backed since no S3 SDK appears anywhere in the pack's direct
// dependencies (see DESIGN.md) — an ObjectStore interface keeps a future
// S3-compatible backend swappable without touching callers.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned when a requested object, version, or conflict
// backup doesn't exist.
var ErrNotFound = errors.New("objectstore: not found")

// ErrHashMismatch is returned by Put when the caller's declared hash
// doesn't match the content actually written.
var ErrHashMismatch = errors.New("objectstore: content hash mismatch")

// ObjectStore is the storage abstraction the sync service depends on.
// FSStore, the filesystem-backed implementation, is the only one.
type ObjectStore interface {
	Exists(ctx context.Context, userID, hash string) (bool, error)
	Put(ctx context.Context, userID, hash string, r io.Reader) error
	Get(ctx context.Context, userID, hash string) (io.ReadCloser, error)
	Delete(ctx context.Context, userID, hash string) error
	PutVersionMeta(ctx context.Context, userID, versionID string, data []byte) error
	GetVersionMeta(ctx context.Context, userID, versionID string) ([]byte, error)
	PutConflictBackup(ctx context.Context, userID, conflictID, suffix string, data []byte) error
	GetConflictBackup(ctx context.Context, userID, conflictID, suffix string) ([]byte, error)
}

// FSStore is a filesystem-backed ObjectStore matching the on-disk layout
// of the original's StoragePath exactly, for local and development use.
// An LRU front-cache short-circuits Exists for hot hashes to avoid a
// stat() round trip on the common "client already has this blob" path.
type FSStore struct {
	root       string
	existCache *lru.Cache[string, struct{}]
	logger     *slog.Logger
}

// NewFSStore constructs an FSStore rooted at root, with an LRU front
// cache sized existCacheSize for Exists lookups.
func NewFSStore(root string, existCacheSize int, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if existCacheSize <= 0 {
		existCacheSize = 4096
	}

	cache, err := lru.New[string, struct{}](existCacheSize)
	if err != nil {
		return nil, fmt.Errorf("objectstore: creating exist cache: %w", err)
	}

	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("objectstore: creating root %s: %w", root, err)
	}

	return &FSStore{root: root, existCache: cache, logger: logger}, nil
}

func (s *FSStore) filePath(userID, hash string) string {
	return filepath.Join(s.root, "users", userID, "files", hash+".data")
}

func (s *FSStore) versionPath(userID, versionID string) string {
	return filepath.Join(s.root, "users", userID, "versions", versionID+".meta")
}

func (s *FSStore) conflictPath(userID, conflictID, suffix string) string {
	return filepath.Join(s.root, "users", userID, "conflicts", conflictID, suffix+".data")
}

// Exists reports whether userID already has an object for hash,
// consulting the LRU cache before touching disk.
func (s *FSStore) Exists(ctx context.Context, userID, hash string) (bool, error) {
	cacheKey := userID + "/" + hash

	if _, ok := s.existCache.Get(cacheKey); ok {
		return true, nil
	}

	_, err := os.Stat(s.filePath(userID, hash))
	if err == nil {
		s.existCache.Add(cacheKey, struct{}{})
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("objectstore: statting object %s/%s: %w", userID, hash, err)
}

// Put writes r's content under hash, deduplicating if the object already
// exists, and verifies the written content actually hashes to hash.
func (s *FSStore) Put(ctx context.Context, userID, hash string, r io.Reader) error {
	if exists, err := s.Exists(ctx, userID, hash); err != nil {
		return err
	} else if exists {
		_, _ = io.Copy(io.Discard, r)
		return nil
	}

	path := s.filePath(userID, hash)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("objectstore: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".obj-*.tmp")
	if err != nil {
		return fmt.Errorf("objectstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()
	success := false

	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(r, h)); err != nil {
		tmp.Close()
		return fmt.Errorf("objectstore: writing %s: %w", tmpPath, err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != hash {
		tmp.Close()
		return fmt.Errorf("objectstore: object %s/%s: %w (got %s)", userID, hash, ErrHashMismatch, actual)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("objectstore: syncing %s: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objectstore: closing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("objectstore: renaming %s to %s: %w", tmpPath, path, err)
	}

	success = true
	s.existCache.Add(userID+"/"+hash, struct{}{})

	return nil
}

// Get opens the object for hash; the caller must Close it.
func (s *FSStore) Get(ctx context.Context, userID, hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.filePath(userID, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("objectstore: opening object %s/%s: %w", userID, hash, err)
	}

	return f, nil
}

// Delete removes the object for hash, evicting it from the exist cache.
func (s *FSStore) Delete(ctx context.Context, userID, hash string) error {
	s.existCache.Remove(userID + "/" + hash)

	if err := os.Remove(s.filePath(userID, hash)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("objectstore: deleting object %s/%s: %w", userID, hash, err)
	}

	return nil
}

// PutVersionMeta writes the metadata sidecar for a specific version ID.
func (s *FSStore) PutVersionMeta(ctx context.Context, userID, versionID string, data []byte) error {
	return writeFileAtomic(s.versionPath(userID, versionID), data)
}

// GetVersionMeta reads back a version's metadata sidecar.
func (s *FSStore) GetVersionMeta(ctx context.Context, userID, versionID string) ([]byte, error) {
	data, err := os.ReadFile(s.versionPath(userID, versionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("objectstore: reading version meta %s/%s: %w", userID, versionID, err)
	}

	return data, nil
}

// PutConflictBackup stores one of the three conflict snapshot suffixes
// (local, remote, merged) for a conflict ID.
func (s *FSStore) PutConflictBackup(ctx context.Context, userID, conflictID, suffix string, data []byte) error {
	return writeFileAtomic(s.conflictPath(userID, conflictID, suffix), data)
}

// GetConflictBackup reads back a conflict snapshot.
func (s *FSStore) GetConflictBackup(ctx context.Context, userID, conflictID, suffix string) ([]byte, error) {
	data, err := os.ReadFile(s.conflictPath(userID, conflictID, suffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("objectstore: reading conflict backup %s/%s/%s: %w", userID, conflictID, suffix, err)
	}

	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("objectstore: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".obj-*.tmp")
	if err != nil {
		return fmt.Errorf("objectstore: creating temp file: %w", err)
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
		return fmt.Errorf("objectstore: writing %s: %w", tmpPath, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("objectstore: syncing %s: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objectstore: closing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("objectstore: renaming %s to %s: %w", tmpPath, path, err)
	}

	success = true

	return nil
}

// HashBytes computes the hex-lowercase SHA-256 of in-memory content,
// matching the hash used for object addressing.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
