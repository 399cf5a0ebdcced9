package syncsvc

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudesync/claudesync/internal/server/catalog"
	"github.com/claudesync/claudesync/internal/server/fanout"
	"github.com/claudesync/claudesync/internal/server/objectstore"
	"github.com/claudesync/claudesync/internal/wire"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	repo := catalog.NewFakeRepository()

	objects, err := objectstore.NewFSStore(t.TempDir(), 16, nil)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fanoutStore := fanout.New(fanout.NewRedisCacheFromClient(client, nil), nil)

	return New(Config{Repository: repo, Objects: objects, Fanout: fanoutStore})
}

func uploadHash(t *testing.T, content []byte) string {
	t.Helper()
	return objectstore.HashBytes(content)
}

func TestService_ReportChanges_AcceptsNewFile(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	content := []byte("hello")
	hash := uploadHash(t, content)
	require.NoError(t, s.objects.Put(ctx, "alice", hash, bytes.NewReader(content)))

	results, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{Path: "a.md", Sha256Hex: hash}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeAccepted, results[0].Outcome)
	assert.NotEmpty(t, results[0].VersionID)
}

func TestService_ReportChanges_NeedsUploadWhenObjectMissing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	results, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{Path: "a.md", Sha256Hex: "deadbeef"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeNeedsUpload, results[0].Outcome)
}

func TestService_ReportChanges_NoOpWhenUnchanged(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	content := []byte("same")
	hash := uploadHash(t, content)
	require.NoError(t, s.objects.Put(ctx, "alice", hash, bytes.NewReader(content)))

	_, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{Path: "a.md", Sha256Hex: hash}})
	require.NoError(t, err)

	results, err := s.ReportChanges(ctx, "alice", "phone", []ReportedFile{{Path: "a.md", Sha256Hex: hash}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, results[0].Outcome)
}

func TestService_ReportChanges_ConflictWhenBaseStale(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	c1 := []byte("v1")
	h1 := uploadHash(t, c1)
	require.NoError(t, s.objects.Put(ctx, "alice", h1, bytes.NewReader(c1)))

	first, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{Path: "a.md", Sha256Hex: h1}})
	require.NoError(t, err)

	c2 := []byte("v2-from-phone")
	h2 := uploadHash(t, c2)
	require.NoError(t, s.objects.Put(ctx, "alice", h2, bytes.NewReader(c2)))

	// phone reports without knowing about laptop's base, so its claimed
	// base doesn't match the now-latest version -> conflict.
	results, err := s.ReportChanges(ctx, "alice", "phone", []ReportedFile{{
		Path: "a.md", Sha256Hex: h2, BaseVersionID: "stale-" + first[0].VersionID,
	}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, results[0].Outcome)
	assert.NotEmpty(t, results[0].ConflictID)
}

func encodeUploadStream(t *testing.T, path string, content []byte, chunkSize int) []byte {
	t.Helper()

	var buf bytes.Buffer

	metaFrame, err := wire.EncodeJSON(wire.KindMetadata, wire.MetadataFrame{
		Path: path, Size: int64(len(content)), Sha256Hex: objectstore.HashBytes(content),
	})
	require.NoError(t, err)
	buf.Write(wire.Encode(metaFrame))

	for offset := 0; offset < len(content) || offset == 0; offset += chunkSize {
		end := offset + chunkSize
		if end > len(content) {
			end = len(content)
		}

		final := end >= len(content)

		chunkFrame, err := wire.EncodeJSON(wire.KindChunk, wire.ChunkFrame{
			Offset: int64(offset), Data: content[offset:end], Final: final,
		})
		require.NoError(t, err)
		buf.Write(wire.Encode(chunkFrame))

		if final {
			break
		}
	}

	return buf.Bytes()
}

func TestService_UploadFile_PersistsAndVersions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	content := []byte("uploaded content spanning chunks")
	stream := encodeUploadStream(t, "notes.md", content, 8)

	v, err := s.UploadFile(ctx, "alice", "laptop", bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "notes.md", v.Path)
	assert.Equal(t, int64(1), v.VersionNumber)

	rc, err := s.objects.Get(ctx, "alice", v.Sha256Hex)
	require.NoError(t, err)
	defer rc.Close()
}

func TestService_UploadFile_RejectsOversize(t *testing.T) {
	s := newTestService(t)
	s.maxFileSize = 4

	content := []byte("way too big")
	stream := encodeUploadStream(t, "big.md", content, 4)

	_, err := s.UploadFile(context.Background(), "alice", "laptop", bytes.NewReader(stream))
	assert.ErrorIs(t, err, ErrOversize)
}

func TestService_DownloadFile_RoundTrips(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	content := []byte("download me please, spanning several chunks of content")
	stream := encodeUploadStream(t, "dl.md", content, 8)

	_, err := s.UploadFile(ctx, "alice", "laptop", bytes.NewReader(stream))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, s.DownloadFile(ctx, "alice", "dl.md", "", 8, &out))

	frames, err := wire.ReadAll(&out, readRawFrame)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, wire.KindMetadata, frames[0].Kind)

	var reassembled bytes.Buffer
	for _, f := range frames[1:] {
		var chunk wire.ChunkFrame
		require.NoError(t, wire.DecodeJSON(f, wire.KindChunk, &chunk))
		reassembled.Write(chunk.Data)
	}

	assert.Equal(t, content, reassembled.Bytes())
}

func readRawFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := uint32(header[1])<<24 | uint32(header[2])<<16 | uint32(header[3])<<8 | uint32(header[4])
	buf := make([]byte, 5+int(length))
	copy(buf, header)

	if _, err := io.ReadFull(r, buf[5:]); err != nil {
		return nil, err
	}

	return buf, nil
}

func TestService_ResolveConflict_KeepLocal(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	base := []byte("base")
	hBase := uploadHash(t, base)
	require.NoError(t, s.objects.Put(ctx, "alice", hBase, bytes.NewReader(base)))

	baseResult, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{Path: "a.md", Sha256Hex: hBase}})
	require.NoError(t, err)

	remoteContent := []byte("remote-change")
	hRemote := uploadHash(t, remoteContent)
	require.NoError(t, s.objects.Put(ctx, "alice", hRemote, bytes.NewReader(remoteContent)))
	_, err = s.ReportChanges(ctx, "alice", "phone", []ReportedFile{{
		Path: "a.md", Sha256Hex: hRemote, BaseVersionID: baseResult[0].VersionID,
	}})
	require.NoError(t, err)

	localContent := []byte("local-change")
	hLocal := uploadHash(t, localContent)
	require.NoError(t, s.objects.Put(ctx, "alice", hLocal, bytes.NewReader(localContent)))
	conflictResults, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{
		Path: "a.md", Sha256Hex: hLocal, BaseVersionID: baseResult[0].VersionID,
	}})
	require.NoError(t, err)
	require.Equal(t, OutcomeConflict, conflictResults[0].Outcome)

	resolved, err := s.ResolveConflict(ctx, "alice", "laptop", conflictResults[0].ConflictID, StrategyKeepLocal, nil)
	require.NoError(t, err)
	assert.Equal(t, hLocal, resolved.Sha256Hex)
}

func TestService_ResolveConflict_UnknownConflictIsRejected(t *testing.T) {
	s := newTestService(t)

	_, err := s.ResolveConflict(context.Background(), "alice", "laptop", "nonexistent", StrategyKeepMerged, nil)
	assert.ErrorIs(t, err, ErrUnknownConflict)
}

func TestService_ResolveConflict_Postpone_LeavesUnresolved(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	c, err := s.repo.PutConflict(ctx, catalog.Conflict{UserID: "alice", Path: "a.md", Kind: catalog.ConflictKindModifyModify})
	require.NoError(t, err)

	v, err := s.ResolveConflict(ctx, "alice", "laptop", c.ID, StrategyPostpone, nil)
	require.NoError(t, err)
	assert.Empty(t, v.ID)

	unresolved, err := s.repo.ListUnresolvedConflicts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
}

func TestService_GetFileHistory_And_RestoreFileVersion(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for _, content := range [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")} {
		hash := uploadHash(t, content)
		require.NoError(t, s.objects.Put(ctx, "alice", hash, bytes.NewReader(content)))

		_, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{Path: "hist.md", Sha256Hex: hash}})
		require.NoError(t, err)
	}

	history, err := s.GetFileHistory(ctx, "alice", "hist.md", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(3), history[0].VersionNumber)

	restored, err := s.RestoreFileVersion(ctx, "alice", "laptop", "hist.md", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), restored.VersionNumber)

	latest, err := s.repo.LatestVersion(ctx, "alice", "hist.md")
	require.NoError(t, err)
	assert.Equal(t, history[2].Sha256Hex, latest.Sha256Hex) // history[2] is the oldest (v1)
}

func TestService_FetchChanges_FiltersBySinceVersion(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for _, content := range [][]byte{[]byte("a"), []byte("b")} {
		hash := uploadHash(t, content)
		require.NoError(t, s.objects.Put(ctx, "alice", hash, bytes.NewReader(content)))

		_, err := s.ReportChanges(ctx, "alice", "laptop", []ReportedFile{{Path: "f.md", Sha256Hex: hash}})
		require.NoError(t, err)
	}

	changes, err := s.FetchChanges(ctx, "alice", 1, "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, int64(2), changes[0].VersionNumber)
}
