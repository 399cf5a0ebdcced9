// Package catalog is the server's relational record of file versions and
// merge conflicts: every accepted ReportChanges call appends a version
// row, and every modify-modify or modify-delete collision appends a
// conflict row tracking its resolution lifecycle. Grounded on
// alert-history-service's repository layer shape (a narrow Querier
// interface wrapping pgxpool, constructor validates/pings, every method
// wraps one query and translates pgx.ErrNoRows) in
// internal/infrastructure/silencing/postgres_silence_repository.go and
// internal/database/postgres/pool.go.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested version or conflict record
// doesn't exist.
var ErrNotFound = errors.New("catalog: not found")

// ConflictKind mirrors internal/conflict.Kind for persistence, kept as
// its own type so this package doesn't import internal/conflict just for
// three constants.
type ConflictKind string

const (
	ConflictKindModifyModify ConflictKind = "modify_modify"
	ConflictKindModifyDelete ConflictKind = "modify_delete"
	ConflictKindBinary       ConflictKind = "binary"
)

// ResolutionStatus tracks a conflict record's lifecycle per spec.md §4.12's
// ResolveConflict operation.
type ResolutionStatus string

const (
	ResolutionUnresolved   ResolutionStatus = "unresolved"
	ResolutionAutoResolved ResolutionStatus = "auto_resolved"
	ResolutionUserResolved ResolutionStatus = "user_resolved"
	ResolutionIgnored      ResolutionStatus = "ignored"
)

// Version is one accepted ReportChanges/UploadFile record for a
// (user, path) pair.
type Version struct {
	ID            string
	UserID        string
	Path          string
	VersionNumber int64
	Sha256Hex     string
	Deleted       bool
	OriginDevice  string
	CreatedAt     time.Time
}

// Conflict is a modify-modify or modify-delete collision record, per
// spec.md §4.12's conflict entity. The local side has no catalog version
// row of its own — it lost the race that produced this conflict — so it's
// recorded as a raw content hash rather than a version reference; the
// remote side, which did win the race, is referenced by its real version.
type Conflict struct {
	ID              string
	UserID          string
	Path            string
	Kind            ConflictKind
	BaseVersionID   string
	LocalSha256Hex  string
	LocalDeleted    bool
	RemoteVersionID string
	Status          ResolutionStatus
	ResolvedVersion string // empty until resolved
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Querier is the narrow subset of pgxpool.Pool the repository needs,
// matching the teacher's DatabaseConnection seam so a transaction
// (pgx.Tx) can also satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Repository is the catalog's storage abstraction; PostgresRepository is
// the production implementation and tests substitute a fake satisfying
// the same interface.
type Repository interface {
	PutVersion(ctx context.Context, v Version) (Version, error)
	LatestVersion(ctx context.Context, userID, path string) (Version, error)
	VersionsSince(ctx context.Context, userID string, sinceVersion int64, pathGlob string) ([]Version, error)
	GetVersion(ctx context.Context, id string) (Version, error)
	PutConflict(ctx context.Context, c Conflict) (Conflict, error)
	GetConflict(ctx context.Context, id string) (Conflict, error)
	ListUnresolvedConflicts(ctx context.Context, userID string) ([]Conflict, error)
	ResolveConflict(ctx context.Context, id string, status ResolutionStatus, resolvedVersionID string) error
}

// PostgresRepository implements Repository against a PostgreSQL database
// reachable through a Querier (ordinarily a *pgxpool.Pool).
type PostgresRepository struct {
	q      Querier
	logger *slog.Logger
}

// NewPostgresRepository wraps an already-connected pool. Connecting and
// pinging is the caller's responsibility, matching the teacher's
// postgres.NewPostgresPool/Connect split between construction and
// lifecycle.
func NewPostgresRepository(q Querier, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRepository{q: q, logger: logger}
}

// OpenPool is a convenience constructor building a *pgxpool.Pool from a
// DSN, for callers that don't need to share the pool with other
// repositories.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: pinging database: %w", err)
	}

	return pool, nil
}

func (r *PostgresRepository) PutVersion(ctx context.Context, v Version) (Version, error) {
	query := `
		INSERT INTO versions (user_id, path, version_number, sha256_hex, deleted, origin_device, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		v.UserID, v.Path, v.VersionNumber, v.Sha256Hex, v.Deleted, v.OriginDevice,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("catalog: inserting version for %s/%s: %w", v.UserID, v.Path, err)
	}

	return v, nil
}

func (r *PostgresRepository) LatestVersion(ctx context.Context, userID, path string) (Version, error) {
	query := `
		SELECT id, user_id, path, version_number, sha256_hex, deleted, origin_device, created_at
		FROM versions
		WHERE user_id = $1 AND path = $2
		ORDER BY version_number DESC
		LIMIT 1
	`

	var v Version

	err := r.q.QueryRow(ctx, query, userID, path).Scan(
		&v.ID, &v.UserID, &v.Path, &v.VersionNumber, &v.Sha256Hex, &v.Deleted, &v.OriginDevice, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, ErrNotFound
		}

		return Version{}, fmt.Errorf("catalog: querying latest version for %s/%s: %w", userID, path, err)
	}

	return v, nil
}

func (r *PostgresRepository) VersionsSince(ctx context.Context, userID string, sinceVersion int64, pathGlob string) ([]Version, error) {
	query := `
		SELECT id, user_id, path, version_number, sha256_hex, deleted, origin_device, created_at
		FROM versions
		WHERE user_id = $1 AND version_number > $2 AND ($3 = '' OR path LIKE $3)
		ORDER BY version_number ASC
	`

	// Translate the glob into a LIKE pattern: escape LIKE's own wildcards,
	// then map * to % and ? to _. Unlike filepath.Match, % also matches "/".
	likePattern := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`, "*", "%", "?", "_").Replace(pathGlob)

	rows, err := r.q.Query(ctx, query, userID, sinceVersion, likePattern)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying versions since %d for %s: %w", sinceVersion, userID, err)
	}
	defer rows.Close()

	var out []Version

	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.UserID, &v.Path, &v.VersionNumber, &v.Sha256Hex, &v.Deleted, &v.OriginDevice, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scanning version row: %w", err)
		}

		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating version rows: %w", err)
	}

	return out, nil
}

func (r *PostgresRepository) GetVersion(ctx context.Context, id string) (Version, error) {
	query := `
		SELECT id, user_id, path, version_number, sha256_hex, deleted, origin_device, created_at
		FROM versions
		WHERE id = $1
	`

	var v Version

	err := r.q.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.UserID, &v.Path, &v.VersionNumber, &v.Sha256Hex, &v.Deleted, &v.OriginDevice, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, ErrNotFound
		}

		return Version{}, fmt.Errorf("catalog: querying version %s: %w", id, err)
	}

	return v, nil
}

func (r *PostgresRepository) PutConflict(ctx context.Context, c Conflict) (Conflict, error) {
	query := `
		INSERT INTO conflicts (user_id, path, kind, base_version_id, local_sha256_hex, local_deleted, remote_version_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`

	if c.Status == "" {
		c.Status = ResolutionUnresolved
	}

	err := r.q.QueryRow(ctx, query,
		c.UserID, c.Path, c.Kind, c.BaseVersionID, c.LocalSha256Hex, c.LocalDeleted, c.RemoteVersionID, c.Status,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Conflict{}, fmt.Errorf("catalog: inserting conflict for %s/%s: %w", c.UserID, c.Path, err)
	}

	return c, nil
}

func (r *PostgresRepository) GetConflict(ctx context.Context, id string) (Conflict, error) {
	query := `
		SELECT id, user_id, path, kind, base_version_id, local_sha256_hex, local_deleted, remote_version_id,
		       status, COALESCE(resolved_version_id, ''), created_at, resolved_at
		FROM conflicts
		WHERE id = $1
	`

	var c Conflict

	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.UserID, &c.Path, &c.Kind, &c.BaseVersionID, &c.LocalSha256Hex, &c.LocalDeleted, &c.RemoteVersionID,
		&c.Status, &c.ResolvedVersion, &c.CreatedAt, &c.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conflict{}, ErrNotFound
		}

		return Conflict{}, fmt.Errorf("catalog: querying conflict %s: %w", id, err)
	}

	return c, nil
}

func (r *PostgresRepository) ListUnresolvedConflicts(ctx context.Context, userID string) ([]Conflict, error) {
	query := `
		SELECT id, user_id, path, kind, base_version_id, local_sha256_hex, local_deleted, remote_version_id,
		       status, COALESCE(resolved_version_id, ''), created_at, resolved_at
		FROM conflicts
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, userID, ResolutionUnresolved)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying unresolved conflicts for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Conflict

	for rows.Next() {
		var c Conflict
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Path, &c.Kind, &c.BaseVersionID, &c.LocalSha256Hex, &c.LocalDeleted, &c.RemoteVersionID,
			&c.Status, &c.ResolvedVersion, &c.CreatedAt, &c.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("catalog: scanning conflict row: %w", err)
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating conflict rows: %w", err)
	}

	return out, nil
}

func (r *PostgresRepository) ResolveConflict(ctx context.Context, id string, status ResolutionStatus, resolvedVersionID string) error {
	query := `
		UPDATE conflicts
		SET status = $1, resolved_version_id = NULLIF($2, ''), resolved_at = NOW()
		WHERE id = $3
	`

	tag, err := r.q.Exec(ctx, query, status, resolvedVersionID, id)
	if err != nil {
		return fmt.Errorf("catalog: resolving conflict %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
