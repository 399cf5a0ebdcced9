// Package localstate persists internal/engine's in-memory StateMap to a
// local SQLite database so a crash or restart doesn't lose per-path sync
// status. Grounded on the teacher's internal/sync.SQLiteStore (WAL mode,
// go:embed migrations, modernc.org/sqlite pure-Go driver), narrowed from
// the teacher's many item/delta/conflict/session tables down to the one
// table this domain's StateMap actually needs.
package localstate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/claudesync/claudesync/internal/engine"
)

// walJournalSizeLimit bounds the WAL file before a checkpoint is forced,
// matching the teacher's own pragma value.
const walJournalSizeLimit = 64 << 20

// Store persists engine.PathState records keyed by path.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at dbPath, sets WAL
// pragmas, and applies pending migrations. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("localstate: opening %s: %w", dbPath, err)
	}

	ctx := context.Background()

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("localstate: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// Save upserts a single path's state record.
func (s *Store) Save(ctx context.Context, path string, st engine.PathState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO path_state (path, local_hash, last_remote_hash, status, last_sync_time, last_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			local_hash = excluded.local_hash,
			last_remote_hash = excluded.last_remote_hash,
			status = excluded.status,
			last_sync_time = excluded.last_sync_time,
			last_error = excluded.last_error
	`, path, st.LocalHash, st.LastRemoteHash, int(st.Status), st.LastSyncTime.UnixNano(), st.LastError)
	if err != nil {
		return fmt.Errorf("localstate: saving state for %s: %w", path, err)
	}

	return nil
}

// Delete removes path's state record, used when a remove event is
// tombstoned, matching engine.StateMap.Delete.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM path_state WHERE path = ?`, path); err != nil {
		return fmt.Errorf("localstate: deleting state for %s: %w", path, err)
	}

	return nil
}

// LoadAll reads every persisted path state, for repopulating an
// engine.StateMap after a restart.
func (s *Store) LoadAll(ctx context.Context) (map[string]engine.PathState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, local_hash, last_remote_hash, status, last_sync_time, last_error FROM path_state
	`)
	if err != nil {
		return nil, fmt.Errorf("localstate: loading states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]engine.PathState)

	for rows.Next() {
		var (
			path                          string
			localHash, remoteHash, lastErr string
			status                        int
			syncTimeNano                  int64
		)

		if err := rows.Scan(&path, &localHash, &remoteHash, &status, &syncTimeNano, &lastErr); err != nil {
			return nil, fmt.Errorf("localstate: scanning state row: %w", err)
		}

		out[path] = engine.PathState{
			LocalHash:      localHash,
			LastRemoteHash: remoteHash,
			Status:         engine.Status(status),
			LastSyncTime:   time.Unix(0, syncTimeNano),
			LastError:      lastErr,
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstate: iterating state rows: %w", err)
	}

	return out, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("localstate: closing database: %w", err)
	}

	return nil
}
