// Package transfer implements chunked upload/download, grounded on
// onedrive-go's internal/driveops.TransferManager: write to a .partial
// file, verify the accumulated hash, atomic rename to the final path on
// success. A failed download leaves its .partial file in place, but the
// next attempt recreates it and transfers from offset zero; transfers do
// not resume.
package transfer

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
	"time"

	"github.com/claudesync/claudesync/internal/wire"
)

// ChunkSize is the default transfer chunk, matching spec.md §4.12's
// "fixed-size chunks (default 4 MiB)" for DownloadFile.
const ChunkSize = 4 << 20

// ErrDataLoss is returned when the accumulated hash of a completed
// transfer does not match the hash declared in its metadata frame,
// matching spec.md §4.12's "data-loss" UploadFile failure mode.
var ErrDataLoss = errors.New("transfer: accumulated hash does not match declared hash")

// ErrOversize is returned when an upload's declared size exceeds the
// configured maximum.
var ErrOversize = errors.New("transfer: file exceeds maximum size")

// ErrServerRejected wraps a wire.ErrorFrame the server sent in place of a
// metadata or ack frame: the request itself was invalid (unknown path,
// bad auth, malformed frame), not a dropped connection, so callers should
// classify it alongside ErrOversize rather than as a transient failure.
var ErrServerRejected = errors.New("transfer: server rejected request")

// Progress is the spec's Transfer progress entity: {path, total bytes,
// transferred bytes, started, completed, failed flag, error}. Percent and
// rate are computed by the caller from TransferredBytes/TotalBytes and
// elapsed wall time, not stored here.
type Progress struct {
	Path             string
	TotalBytes       int64
	TransferredBytes int64
	StartedAt        time.Time
	CompletedAt      time.Time
	Failed           bool
	Err              string
}

// ProgressSink receives a Progress update after every chunk sent or
// received, plus a final update on completion or failure. Upload and
// Download accept a nil sink when the caller doesn't need progress
// reporting.
type ProgressSink interface {
	OnProgress(Progress)
}

func notify(sink ProgressSink, p Progress) {
	if sink != nil {
		sink.OnProgress(p)
	}
}

// Sender is the half of a Conn a transfer needs to push frames.
type Sender interface {
	Send(ctx context.Context, f wire.Frame) error
}

// Receiver is the half of a Conn a transfer needs to pull frames.
type Receiver interface {
	Recv(ctx context.Context) (wire.Frame, error)
}

// Manager drives chunked transfers to and from local files, bounding
// concurrent transfers with a semaphore the way driveops.TransferManager's
// callers bound concurrent uploads, generalized here into the manager
// itself rather than left to callers.
type Manager struct {
	maxFileSize int64
	concurrency chan struct{}
	logger      *slog.Logger
}

// NewManager constructs a Manager. maxConcurrent bounds how many transfers
// may run at once; maxFileSize rejects oversize uploads per spec.md §4.12.
func NewManager(maxConcurrent int, maxFileSize int64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Manager{
		maxFileSize: maxFileSize,
		concurrency: make(chan struct{}, maxConcurrent),
		logger:      logger,
	}
}

// hashFile computes srcPath's SHA-256 in a single streaming pass,
// without holding its contents in memory.
func hashFile(srcPath string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("transfer: opening %s: %w", srcPath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("transfer: hashing %s: %w", srcPath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.concurrency <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.concurrency
}

// UploadResult reports a completed upload's accumulated hash and size.
type UploadResult struct {
	Sha256Hex string
	Size      int64
}

// Upload streams srcPath to dst in ChunkSize pieces: sends a metadata
// frame, then chunk frames, verifying the hash accumulated over the sent
// bytes against meta.Sha256Hex after the last chunk and failing with
// ErrDataLoss on mismatch. sink, if non-nil,
// receives a Progress update after every chunk and a final one on
// completion or failure.
func (m *Manager) Upload(ctx context.Context, dst Sender, srcPath, remotePath string, sink ProgressSink) (UploadResult, error) {
	if err := m.acquire(ctx); err != nil {
		return UploadResult{}, err
	}
	defer m.release()

	info, err := os.Stat(srcPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transfer: statting %s: %w", srcPath, err)
	}

	if m.maxFileSize > 0 && info.Size() > m.maxFileSize {
		return UploadResult{}, fmt.Errorf("%w: %d bytes > max %d", ErrOversize, info.Size(), m.maxFileSize)
	}

	started := time.Now()
	notify(sink, Progress{Path: remotePath, TotalBytes: info.Size(), StartedAt: started})

	var sent int64

	fail := func(err error) (UploadResult, error) {
		notify(sink, Progress{Path: remotePath, TotalBytes: info.Size(), TransferredBytes: sent, StartedAt: started, Failed: true, Err: err.Error()})
		return UploadResult{}, err
	}

	// The wire metadata frame must carry the content hash up front (spec.md
	// §4.7), so a first streaming pass computes it before the second pass
	// sends chunks — neither pass holds the file's bytes in memory at once.
	declaredHash, err := hashFile(srcPath)
	if err != nil {
		return fail(err)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fail(fmt.Errorf("transfer: opening %s: %w", srcPath, err))
	}
	defer f.Close()

	hasher := sha256.New()
	tee := io.TeeReader(f, hasher)

	meta := wire.MetadataFrame{Path: remotePath, Size: info.Size(), Sha256Hex: declaredHash}

	metaFrame, err := wire.EncodeJSON(wire.KindMetadata, meta)
	if err != nil {
		return fail(err)
	}

	if err := dst.Send(ctx, metaFrame); err != nil {
		return fail(fmt.Errorf("transfer: sending metadata: %w", err))
	}

	buf := make([]byte, ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		n, readErr := tee.Read(buf)
		if n > 0 {
			final := sent+int64(n) >= info.Size()

			chunk := wire.ChunkFrame{Offset: sent, Data: append([]byte(nil), buf[:n]...), Final: final}

			chunkFrame, err := wire.EncodeJSON(wire.KindChunk, chunk)
			if err != nil {
				return fail(err)
			}

			if err := dst.Send(ctx, chunkFrame); err != nil {
				return fail(fmt.Errorf("transfer: sending chunk at offset %d: %w", sent, err))
			}

			sent += int64(n)

			notify(sink, Progress{Path: remotePath, TotalBytes: info.Size(), TransferredBytes: sent, StartedAt: started})
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return fail(fmt.Errorf("transfer: reading %s: %w", srcPath, readErr))
		}
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if sum != declaredHash {
		return fail(fmt.Errorf("%w: sent=%s declared=%s", ErrDataLoss, sum, declaredHash))
	}

	notify(sink, Progress{Path: remotePath, TotalBytes: info.Size(), TransferredBytes: sent, StartedAt: started, CompletedAt: time.Now()})

	return UploadResult{Sha256Hex: sum, Size: sent}, nil
}

// DownloadResult reports a completed download's verified hash and size.
type DownloadResult struct {
	Sha256Hex    string
	Size         int64
	HashVerified bool
}

// Download reads a metadata frame then a stream of chunk frames from src,
// writing them to a `.partial` sibling of dstPath, verifying the
// accumulated hash against the metadata's declared hash, and atomically
// renaming to dstPath only on success. On failure the .partial file is
// left in place so a retried download can inspect or discard it. sink, if
// non-nil, receives a Progress update after every chunk and a final one
// on completion or failure.
func (m *Manager) Download(ctx context.Context, src Receiver, dstPath string, sink ProgressSink) (DownloadResult, error) {
	if err := m.acquire(ctx); err != nil {
		return DownloadResult{}, err
	}
	defer m.release()

	started := time.Now()

	fail := func(path string, size int64, err error) (DownloadResult, error) {
		notify(sink, Progress{Path: path, TransferredBytes: size, StartedAt: started, Failed: true, Err: err.Error()})
		return DownloadResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o700); err != nil {
		return fail(dstPath, 0, fmt.Errorf("transfer: creating parent dir for %s: %w", dstPath, err))
	}

	metaFrame, err := src.Recv(ctx)
	if err != nil {
		return fail(dstPath, 0, fmt.Errorf("transfer: receiving metadata: %w", err))
	}

	if metaFrame.Kind == wire.KindError {
		var ef wire.ErrorFrame
		_ = wire.DecodeJSON(metaFrame, wire.KindError, &ef)
		return fail(dstPath, 0, fmt.Errorf("%w: %s: %s", ErrServerRejected, ef.Code, ef.Message))
	}

	var meta wire.MetadataFrame
	if err := wire.DecodeJSON(metaFrame, wire.KindMetadata, &meta); err != nil {
		return fail(dstPath, 0, err)
	}

	notify(sink, Progress{Path: meta.Path, TotalBytes: meta.Size, StartedAt: started})

	partialPath := dstPath + ".partial"

	out, err := os.Create(partialPath)
	if err != nil {
		return fail(meta.Path, 0, fmt.Errorf("transfer: creating %s: %w", partialPath, err))
	}

	hasher := sha256.New()
	var size int64

	for {
		frame, err := src.Recv(ctx)
		if err != nil {
			out.Close()
			return fail(meta.Path, size, fmt.Errorf("transfer: receiving chunk: %w", err))
		}

		var chunk wire.ChunkFrame
		if err := wire.DecodeJSON(frame, wire.KindChunk, &chunk); err != nil {
			out.Close()
			return fail(meta.Path, size, err)
		}

		if _, err := out.Write(chunk.Data); err != nil {
			out.Close()
			return fail(meta.Path, size, fmt.Errorf("transfer: writing to %s: %w", partialPath, err))
		}

		hasher.Write(chunk.Data)
		size += int64(len(chunk.Data))

		notify(sink, Progress{Path: meta.Path, TotalBytes: meta.Size, TransferredBytes: size, StartedAt: started})

		if chunk.Final {
			break
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fail(meta.Path, size, fmt.Errorf("transfer: syncing %s: %w", partialPath, err))
	}

	if err := out.Close(); err != nil {
		return fail(meta.Path, size, fmt.Errorf("transfer: closing %s: %w", partialPath, err))
	}

	localHash := hex.EncodeToString(hasher.Sum(nil))
	verified := true

	if meta.Sha256Hex != "" && meta.Sha256Hex != localHash {
		m.logger.Warn("transfer: hash mismatch on download",
			"path", dstPath, "local_hash", localHash, "remote_hash", meta.Sha256Hex)

		return fail(meta.Path, size, fmt.Errorf("%w: local=%s remote=%s", ErrDataLoss, localHash, meta.Sha256Hex))
	}

	if err := os.Rename(partialPath, dstPath); err != nil {
		return fail(meta.Path, size, fmt.Errorf("transfer: renaming %s to %s: %w", partialPath, dstPath, err))
	}

	notify(sink, Progress{Path: meta.Path, TotalBytes: meta.Size, TransferredBytes: size, StartedAt: started, CompletedAt: time.Now()})

	return DownloadResult{Sha256Hex: localHash, Size: size, HashVerified: verified}, nil
}
