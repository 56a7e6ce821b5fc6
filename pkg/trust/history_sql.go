package trust

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLHistoryStore is a HistoryStore backed by a SQL database, used for
// deployments that want decision history durable and queryable outside
// the process (audits, dashboards). It targets the pure-Go SQLite
// driver by default; the same schema and parameterized queries work
// unchanged against Postgres by opening with a "postgres" *sql.DB built
// from lib/pq instead.
type SQLHistoryStore struct {
	db     *sql.DB
	window int
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trust_history (
    principal_id TEXT NOT NULL,
    recorded_at  INTEGER NOT NULL,
    verdict      TEXT NOT NULL,
    trust_score  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trust_history_principal ON trust_history(principal_id, recorded_at);
`

// OpenSQLiteHistoryStore opens (creating if necessary) a SQLite-backed
// history store at path, retaining up to window rows per principal.
func OpenSQLiteHistoryStore(path string, window int) (*SQLHistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trust: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trust: migrate sqlite schema: %w", err)
	}
	if window <= 0 {
		window = 100
	}
	return &SQLHistoryStore{db: db, window: window}, nil
}

// NewSQLHistoryStore wraps an already-open *sql.DB (e.g. a lib/pq
// Postgres connection) whose schema has already been migrated by the
// deployment's own migration tooling.
func NewSQLHistoryStore(db *sql.DB, window int) *SQLHistoryStore {
	if window <= 0 {
		window = 100
	}
	return &SQLHistoryStore{db: db, window: window}
}

func (s *SQLHistoryStore) Record(ctx context.Context, principalID string, d Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trust_history (principal_id, recorded_at, verdict, trust_score) VALUES (?, ?, ?, ?)`,
		principalID, d.Timestamp.UnixNano(), d.Verdict, d.TrustScore,
	)
	if err != nil {
		return fmt.Errorf("trust: insert history row: %w", err)
	}

	// Trim to the configured window, oldest first.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM trust_history
		WHERE principal_id = ? AND recorded_at NOT IN (
			SELECT recorded_at FROM trust_history
			WHERE principal_id = ?
			ORDER BY recorded_at DESC
			LIMIT ?
		)`, principalID, principalID, s.window)
	if err != nil {
		return fmt.Errorf("trust: trim history: %w", err)
	}
	return nil
}

func (s *SQLHistoryStore) Recent(ctx context.Context, principalID string, limit int) ([]Decision, error) {
	if limit <= 0 || limit > s.window {
		limit = s.window
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT recorded_at, verdict, trust_score FROM trust_history
		WHERE principal_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?`, principalID, limit)
	if err != nil {
		return nil, fmt.Errorf("trust: query history: %w", err)
	}
	defer rows.Close()

	var reversed []Decision
	for rows.Next() {
		var recordedAtNanos int64
		var d Decision
		if err := rows.Scan(&recordedAtNanos, &d.Verdict, &d.TrustScore); err != nil {
			return nil, fmt.Errorf("trust: scan history row: %w", err)
		}
		d.Timestamp = time.Unix(0, recordedAtNanos).UTC()
		reversed = append(reversed, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trust: iterate history rows: %w", err)
	}

	out := make([]Decision, len(reversed))
	for i, d := range reversed {
		out[len(reversed)-1-i] = d
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *SQLHistoryStore) Close() error {
	return s.db.Close()
}
