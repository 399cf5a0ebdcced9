// Package syncsvc is the server's file-sync service: ReportChanges,
// FetchChanges, UploadFile, DownloadFile, ResolveConflict,
// GetFileHistory and RestoreFileVersion, layered handler → service →
// repository the way alert-history-service structures its HTTP handlers
// over its silencing/history services. internal/server/httpapi serves the
// request-reply operations as gorilla/mux JSON routes and carries the
// streamed UploadFile/DownloadFile over internal/rpcconn's websocket
// frames. The service has no SubscribeChanges or Heartbeat operation.
package syncsvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/claudesync/claudesync/internal/server/catalog"
	"github.com/claudesync/claudesync/internal/server/fanout"
	"github.com/claudesync/claudesync/internal/server/objectstore"
	"github.com/claudesync/claudesync/internal/wire"
)

// DefaultMaxFileSize is the server's reject-oversize threshold for
// UploadFile, per spec.md §4.12.
const DefaultMaxFileSize = 512 << 20

// ErrOversize is returned by UploadFile when the declared size exceeds
// the configured maximum.
var ErrOversize = errors.New("syncsvc: file exceeds max_file_size")

// ErrDataLoss is returned by UploadFile when the accumulated chunk bytes
// don't hash to the declared metadata hash.
var ErrDataLoss = errors.New("syncsvc: uploaded content does not match declared hash")

// ErrUnknownConflict is returned by ResolveConflict for an unrecognized
// conflict ID.
var ErrUnknownConflict = errors.New("syncsvc: unknown conflict")

// ChangeOutcome is ReportChanges' per-file verdict.
type ChangeOutcome string

const (
	OutcomeAccepted    ChangeOutcome = "accepted"
	OutcomeNeedsUpload ChangeOutcome = "needs-upload"
	OutcomeConflict    ChangeOutcome = "conflict"
)

// ReportedFile is one entry of a ReportChanges batch: the client's claim
// about a path's current state.
type ReportedFile struct {
	Path          string
	Sha256Hex     string
	BaseVersionID string
	Deleted       bool
}

// ReportResult is ReportChanges' per-file response.
type ReportResult struct {
	Path       string
	Outcome    ChangeOutcome
	VersionID  string
	ConflictID string
}

// ResolveStrategy names ResolveConflict's four strategies.
type ResolveStrategy string

const (
	StrategyKeepLocal  ResolveStrategy = "keep_local"
	StrategyKeepRemote ResolveStrategy = "keep_remote"
	StrategyKeepMerged ResolveStrategy = "keep_merged"
	StrategyPostpone   ResolveStrategy = "postpone"
)

// Service implements spec.md §4.12 over a catalog repository, object
// store, and fan-out cache.
type Service struct {
	repo        catalog.Repository
	objects     objectstore.ObjectStore
	fanout      *fanout.Store
	maxFileSize int64
	logger      *slog.Logger
}

// Config wires the Service's collaborators and limits.
type Config struct {
	Repository  catalog.Repository
	Objects     objectstore.ObjectStore
	Fanout      *fanout.Store
	MaxFileSize int64
	Logger      *slog.Logger
}

// New constructs a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	return &Service{
		repo:        cfg.Repository,
		objects:     cfg.Objects,
		fanout:      cfg.Fanout,
		maxFileSize: cfg.MaxFileSize,
		logger:      cfg.Logger,
	}
}

// ReportChanges resolves each reported file against the latest stored
// version and fans out each newly accepted version (not conflicts) to
// the user's change queue, per spec.md §4.12.
func (s *Service) ReportChanges(ctx context.Context, userID, deviceID string, files []ReportedFile) ([]ReportResult, error) {
	results := make([]ReportResult, 0, len(files))

	for _, f := range files {
		res, err := s.reportOne(ctx, userID, deviceID, f)
		if err != nil {
			return results, fmt.Errorf("syncsvc: reporting change for %s: %w", f.Path, err)
		}

		results = append(results, res)
	}

	return results, nil
}

func (s *Service) reportOne(ctx context.Context, userID, deviceID string, f ReportedFile) (ReportResult, error) {
	latest, err := s.repo.LatestVersion(ctx, userID, f.Path)

	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return s.accept(ctx, userID, deviceID, f, 0)

	case err != nil:
		return ReportResult{}, err

	case latest.Sha256Hex == f.Sha256Hex:
		return ReportResult{Path: f.Path, Outcome: OutcomeAccepted, VersionID: latest.ID}, nil

	case f.BaseVersionID == latest.ID:
		return s.accept(ctx, userID, deviceID, f, latest.VersionNumber)

	default:
		return s.recordConflict(ctx, userID, f, latest)
	}
}

func (s *Service) accept(ctx context.Context, userID, deviceID string, f ReportedFile, latestVersionNumber int64) (ReportResult, error) {
	if !f.Deleted {
		exists, err := s.objects.Exists(ctx, userID, f.Sha256Hex)
		if err != nil {
			return ReportResult{}, err
		}

		if !exists {
			return ReportResult{Path: f.Path, Outcome: OutcomeNeedsUpload}, nil
		}
	}

	v, err := s.repo.PutVersion(ctx, catalog.Version{
		UserID:        userID,
		Path:          f.Path,
		VersionNumber: latestVersionNumber + 1,
		Sha256Hex:     f.Sha256Hex,
		Deleted:       f.Deleted,
		OriginDevice:  deviceID,
	})
	if err != nil {
		return ReportResult{}, err
	}

	s.notifyPeers(ctx, userID, deviceID, v)

	return ReportResult{Path: f.Path, Outcome: OutcomeAccepted, VersionID: v.ID}, nil
}

func (s *Service) recordConflict(ctx context.Context, userID string, f ReportedFile, latest catalog.Version) (ReportResult, error) {
	kind := catalog.ConflictKindModifyModify
	if f.Deleted || latest.Deleted {
		kind = catalog.ConflictKindModifyDelete
	}

	c, err := s.repo.PutConflict(ctx, catalog.Conflict{
		UserID:          userID,
		Path:            f.Path,
		Kind:            kind,
		BaseVersionID:   f.BaseVersionID,
		LocalSha256Hex:  f.Sha256Hex,
		LocalDeleted:    f.Deleted,
		RemoteVersionID: latest.ID,
	})
	if err != nil {
		return ReportResult{}, err
	}

	return ReportResult{Path: f.Path, Outcome: OutcomeConflict, ConflictID: c.ID}, nil
}

// latestVersionNumber returns the current highest version_number for
// (userID, path), or 0 if the path has no prior version — callers add 1
// to get the next version_number. Concurrent writers racing on the same
// path are serialized at the database layer by the
// versions_user_path_version_idx unique index, which rejects a duplicate
// (user_id, path, version_number) under concurrent PutVersion calls.
func (s *Service) latestVersionNumber(ctx context.Context, userID, path string) (int64, error) {
	latest, err := s.repo.LatestVersion(ctx, userID, path)
	if errors.Is(err, catalog.ErrNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	return latest.VersionNumber, nil
}

// FetchChanges returns versions newer than sinceVersion matching
// pathGlob (empty glob = all paths).
func (s *Service) FetchChanges(ctx context.Context, userID string, sinceVersion int64, pathGlob string) ([]catalog.Version, error) {
	versions, err := s.repo.VersionsSince(ctx, userID, sinceVersion, pathGlob)
	if err != nil {
		return nil, fmt.Errorf("syncsvc: fetching changes since %d: %w", sinceVersion, err)
	}

	return versions, nil
}

// UploadFile reads a metadata frame followed by chunk frames from src,
// verifies the accumulated hash, persists the blob and a version record,
// and fans out the change. It implements spec.md §4.12's UploadFile
// exactly, reusing internal/transfer's wire framing.
func (s *Service) UploadFile(ctx context.Context, userID, deviceID string, src io.Reader) (catalog.Version, error) {
	metaFrame, err := readFrame(src)
	if err != nil {
		return catalog.Version{}, fmt.Errorf("syncsvc: reading upload metadata: %w", err)
	}

	var meta wire.MetadataFrame
	if err := wire.DecodeJSON(metaFrame, wire.KindMetadata, &meta); err != nil {
		return catalog.Version{}, err
	}

	if meta.Size > s.maxFileSize {
		return catalog.Version{}, fmt.Errorf("%w: %d > %d", ErrOversize, meta.Size, s.maxFileSize)
	}

	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		for {
			frame, ferr := readFrame(src)
			if ferr != nil {
				pw.CloseWithError(ferr)
				return
			}

			var chunk wire.ChunkFrame
			if derr := wire.DecodeJSON(frame, wire.KindChunk, &chunk); derr != nil {
				pw.CloseWithError(derr)
				return
			}

			if _, werr := pw.Write(chunk.Data); werr != nil {
				return
			}

			if chunk.Final {
				return
			}
		}
	}()

	if err := s.objects.Put(ctx, userID, meta.Sha256Hex, pr); err != nil {
		if errors.Is(err, objectstore.ErrHashMismatch) {
			return catalog.Version{}, ErrDataLoss
		}

		return catalog.Version{}, fmt.Errorf("syncsvc: persisting uploaded object: %w", err)
	}

	latestNumber, err := s.latestVersionNumber(ctx, userID, meta.Path)
	if err != nil {
		return catalog.Version{}, err
	}

	v, err := s.repo.PutVersion(ctx, catalog.Version{
		UserID:        userID,
		Path:          meta.Path,
		VersionNumber: latestNumber + 1,
		Sha256Hex:     meta.Sha256Hex,
		OriginDevice:  deviceID,
	})
	if err != nil {
		return catalog.Version{}, err
	}

	s.notifyPeers(ctx, userID, deviceID, v)

	return v, nil
}

// DownloadFile locates path's version (the latest, or a specific
// versionID when given) and streams its object bytes as metadata +
// fixed-size chunk frames onto dst.
func (s *Service) DownloadFile(ctx context.Context, userID, path, versionID string, chunkSize int, dst io.Writer) error {
	var v catalog.Version
	var err error

	if versionID != "" {
		v, err = s.repo.GetVersion(ctx, versionID)
	} else {
		v, err = s.repo.LatestVersion(ctx, userID, path)
	}

	if err != nil {
		return fmt.Errorf("syncsvc: locating version for %s: %w", path, err)
	}

	rc, err := s.objects.Get(ctx, userID, v.Sha256Hex)
	if err != nil {
		return fmt.Errorf("syncsvc: opening object %s: %w", v.Sha256Hex, err)
	}
	defer rc.Close()

	metaFrame, err := wire.EncodeJSON(wire.KindMetadata, wire.MetadataFrame{Path: v.Path, Sha256Hex: v.Sha256Hex})
	if err != nil {
		return err
	}

	if _, err := dst.Write(wire.Encode(metaFrame)); err != nil {
		return fmt.Errorf("syncsvc: writing metadata frame: %w", err)
	}

	buf := make([]byte, chunkSize)
	offset := int64(0)

	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			final := errors.Is(rerr, io.EOF)

			chunkFrame, err := wire.EncodeJSON(wire.KindChunk, wire.ChunkFrame{
				Offset: offset,
				Data:   append([]byte(nil), buf[:n]...),
				Final:  final,
			})
			if err != nil {
				return err
			}

			if _, werr := dst.Write(wire.Encode(chunkFrame)); werr != nil {
				return fmt.Errorf("syncsvc: writing chunk frame: %w", werr)
			}

			offset += int64(n)
		}

		if errors.Is(rerr, io.EOF) {
			// A reader that reports EOF only on an empty read (as *os.File
			// does) has not marked any chunk Final yet; send an empty
			// final chunk so the receiver's chunk loop ends.
			if n == 0 {
				chunkFrame, err := wire.EncodeJSON(wire.KindChunk, wire.ChunkFrame{Offset: offset, Final: true})
				if err != nil {
					return err
				}

				if _, werr := dst.Write(wire.Encode(chunkFrame)); werr != nil {
					return fmt.Errorf("syncsvc: writing final chunk frame: %w", werr)
				}
			}

			return nil
		}

		if rerr != nil {
			return fmt.Errorf("syncsvc: reading object %s: %w", v.Sha256Hex, rerr)
		}
	}
}

// ResolveConflict applies strategy to a conflict record per spec.md
// §4.12: keep_local/keep_remote materialize the chosen side as a new
// version, keep_merged requires mergedBytes and persists them as a new
// version (no link to the conflict's base version is recorded on it),
// postpone leaves the conflict unresolved.
func (s *Service) ResolveConflict(ctx context.Context, userID, deviceID, conflictID string, strategy ResolveStrategy, mergedBytes []byte) (catalog.Version, error) {
	c, err := s.repo.GetConflict(ctx, conflictID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Version{}, ErrUnknownConflict
		}

		return catalog.Version{}, err
	}

	switch strategy {
	case StrategyPostpone:
		return catalog.Version{}, nil

	case StrategyKeepLocal:
		return s.materializeResolution(ctx, userID, deviceID, c, c.LocalSha256Hex, c.LocalDeleted, ResolutionUserResolved())

	case StrategyKeepRemote:
		remote, err := s.repo.GetVersion(ctx, c.RemoteVersionID)
		if err != nil {
			return catalog.Version{}, err
		}

		return s.materializeResolution(ctx, userID, deviceID, c, remote.Sha256Hex, remote.Deleted, ResolutionUserResolved())

	case StrategyKeepMerged:
		if len(mergedBytes) == 0 {
			return catalog.Version{}, fmt.Errorf("syncsvc: keep_merged requires a payload")
		}

		hash := objectstore.HashBytes(mergedBytes)

		if err := s.objects.Put(ctx, userID, hash, bytes.NewReader(mergedBytes)); err != nil {
			return catalog.Version{}, err
		}

		latestNumber, err := s.latestVersionNumber(ctx, userID, c.Path)
		if err != nil {
			return catalog.Version{}, err
		}

		v, err := s.repo.PutVersion(ctx, catalog.Version{
			UserID:        userID,
			Path:          c.Path,
			VersionNumber: latestNumber + 1,
			Sha256Hex:     hash,
			OriginDevice:  deviceID,
		})
		if err != nil {
			return catalog.Version{}, err
		}

		if err := s.repo.ResolveConflict(ctx, c.ID, ResolutionUserResolved(), v.ID); err != nil {
			return catalog.Version{}, err
		}

		s.notifyPeers(ctx, userID, deviceID, v)

		return v, nil

	default:
		return catalog.Version{}, fmt.Errorf("syncsvc: unknown resolve strategy %q", strategy)
	}
}

// materializeResolution commits sha256Hex/deleted (the winning side's
// content, whichever side won) as a new version and marks the conflict
// resolved. The local side never had its own version row — it lost the
// race that produced the conflict — so both KeepLocal and KeepRemote
// resolve to a plain content hash before reaching this point.
func (s *Service) materializeResolution(ctx context.Context, userID, deviceID string, c catalog.Conflict, sha256Hex string, deleted bool, status catalog.ResolutionStatus) (catalog.Version, error) {
	latestNumber, err := s.latestVersionNumber(ctx, userID, c.Path)
	if err != nil {
		return catalog.Version{}, err
	}

	v, err := s.repo.PutVersion(ctx, catalog.Version{
		UserID:        userID,
		Path:          c.Path,
		VersionNumber: latestNumber + 1,
		Sha256Hex:     sha256Hex,
		Deleted:       deleted,
		OriginDevice:  deviceID,
	})
	if err != nil {
		return catalog.Version{}, err
	}

	if err := s.repo.ResolveConflict(ctx, c.ID, status, v.ID); err != nil {
		return catalog.Version{}, err
	}

	s.notifyPeers(ctx, userID, deviceID, v)

	return v, nil
}

// ResolutionUserResolved names the status ResolveConflict sets, exposed
// as a function rather than a bare constant reference so handler code
// doesn't need to import the catalog package's status constants directly.
func ResolutionUserResolved() catalog.ResolutionStatus {
	return catalog.ResolutionUserResolved
}

// GetFileHistory returns up to limit of a path's versions, newest first.
func (s *Service) GetFileHistory(ctx context.Context, userID, path string, limit int) ([]catalog.Version, error) {
	versions, err := s.repo.VersionsSince(ctx, userID, 0, path)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(versions) > limit {
		versions = versions[len(versions)-limit:]
	}

	reversed := make([]catalog.Version, len(versions))
	for i, v := range versions {
		reversed[len(versions)-1-i] = v
	}

	return reversed, nil
}

// RestoreFileVersion rewrites path's history by creating a new version
// whose content matches an older versionNumber.
func (s *Service) RestoreFileVersion(ctx context.Context, userID, deviceID, path string, versionNumber int64) (catalog.Version, error) {
	versions, err := s.repo.VersionsSince(ctx, userID, versionNumber-1, path)
	if err != nil {
		return catalog.Version{}, err
	}

	var target catalog.Version
	found := false

	for _, v := range versions {
		if v.VersionNumber == versionNumber {
			target = v
			found = true
			break
		}
	}

	if !found {
		return catalog.Version{}, catalog.ErrNotFound
	}

	latestNumber, err := s.latestVersionNumber(ctx, userID, path)
	if err != nil {
		return catalog.Version{}, err
	}

	v, err := s.repo.PutVersion(ctx, catalog.Version{
		UserID:        userID,
		Path:          path,
		VersionNumber: latestNumber + 1,
		Sha256Hex:     target.Sha256Hex,
		OriginDevice:  deviceID,
	})
	if err != nil {
		return catalog.Version{}, err
	}

	s.notifyPeers(ctx, userID, deviceID, v)

	return v, nil
}

// notifyPeers pushes a change notification, tagged with the origin
// device, onto userID's change queue. Fan-out is fire-and-forget and best-effort per spec.md
// §4.12: a push failure is logged, not propagated to the caller.
func (s *Service) notifyPeers(ctx context.Context, userID, originDevice string, v catalog.Version) {
	if s.fanout == nil {
		return
	}

	if err := s.fanout.PushChange(ctx, userID, fanout.ChangeNotification{
		Path:          v.Path,
		VersionNumber: v.VersionNumber,
		Sha256Hex:     v.Sha256Hex,
		Deleted:       v.Deleted,
		OriginDevice:  originDevice,
	}); err != nil {
		s.logger.Warn("syncsvc: best-effort change fan-out failed", "user", userID, "path", v.Path, "error", err)
	}
}

func readFrame(r io.Reader) (wire.Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return wire.Frame{}, err
	}

	length := uint32(header[1])<<24 | uint32(header[2])<<16 | uint32(header[3])<<8 | uint32(header[4])

	buf := make([]byte, 5+int(length))
	copy(buf, header)

	if _, err := io.ReadFull(r, buf[5:]); err != nil {
		return wire.Frame{}, err
	}

	return wire.Decode(buf)
}

