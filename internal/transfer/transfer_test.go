package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudesync/claudesync/internal/wire"
)

// pipeConn is an in-memory Sender+Receiver pairing an upload's Send calls
// directly to a Download's Recv calls, avoiding any real network.
type pipeConn struct {
	frames chan wire.Frame
}

func newPipeConn() *pipeConn {
	return &pipeConn{frames: make(chan wire.Frame, 64)}
}

func (p *pipeConn) Send(ctx context.Context, f wire.Frame) error {
	p.frames <- f
	return nil
}

func (p *pipeConn) Recv(ctx context.Context) (wire.Frame, error) {
	return <-p.frames, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestManager_UploadDownload_RoundTrips(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	content := []byte("the quick brown fox jumps over the lazy dog, repeated\n")
	srcPath := filepath.Join(srcDir, "file.txt")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	conn := newPipeConn()
	m := NewManager(4, 0, nil)

	uploadRes, err := m.Upload(context.Background(), conn, srcPath, "skills/file.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex(content), uploadRes.Sha256Hex)
	assert.Equal(t, int64(len(content)), uploadRes.Size)

	// Download needs the metadata frame to carry the expected hash; feed it
	// the hash Upload reported, as a server would.
	dstPath := filepath.Join(dstDir, "file.txt")

	downloadConn := newPipeConn()
	go func() {
		meta := wire.MetadataFrame{Path: "skills/file.txt", Size: int64(len(content)), Sha256Hex: uploadRes.Sha256Hex}
		f, _ := wire.EncodeJSON(wire.KindMetadata, meta)
		downloadConn.frames <- f

		chunk := wire.ChunkFrame{Offset: 0, Data: content, Final: true}
		cf, _ := wire.EncodeJSON(wire.KindChunk, chunk)
		downloadConn.frames <- cf
	}()

	downloadRes, err := m.Download(context.Background(), downloadConn, dstPath, nil)
	require.NoError(t, err)
	assert.True(t, downloadRes.HashVerified)
	assert.Equal(t, sha256Hex(content), downloadRes.Sha256Hex)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestManager_Download_HashMismatchLeavesPartialAndFails(t *testing.T) {
	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "file.txt")

	conn := newPipeConn()
	meta := wire.MetadataFrame{Path: "x", Size: 5, Sha256Hex: "deadbeef"}
	f, _ := wire.EncodeJSON(wire.KindMetadata, meta)
	conn.frames <- f

	chunk := wire.ChunkFrame{Offset: 0, Data: []byte("hello"), Final: true}
	cf, _ := wire.EncodeJSON(wire.KindChunk, chunk)
	conn.frames <- cf

	m := NewManager(2, 0, nil)
	_, err := m.Download(context.Background(), conn, dstPath, nil)
	require.ErrorIs(t, err, ErrDataLoss)

	_, statErr := os.Stat(dstPath + ".partial")
	assert.NoError(t, statErr, "partial file should be preserved for inspection/resume")
}

func TestManager_Upload_RejectsOversize(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "big.bin")
	require.NoError(t, os.WriteFile(srcPath, make([]byte, 1024), 0o644))

	m := NewManager(1, 100, nil)
	conn := newPipeConn()

	_, err := m.Upload(context.Background(), conn, srcPath, "big.bin", nil)
	require.ErrorIs(t, err, ErrOversize)
}

func TestManager_BoundsConcurrency(t *testing.T) {
	m := NewManager(1, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, m.acquire(ctx))

	blocked := make(chan error, 1)
	go func() {
		blocked <- m.acquire(ctx)
	}()

	select {
	case <-blocked:
		t.Fatal("second acquire should have blocked while concurrency is saturated")
	default:
	}

	m.release()
	require.NoError(t, <-blocked)
	m.release()
	cancel()
}
