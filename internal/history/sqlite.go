package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/court-sniper/internal/domain/booking"
)

// Fixed-width timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens path (":memory:" works) and creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	d.SetMaxOpenConns(1)
	s := &SQLite{db: d}
	if err := s.migrate(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	for _, stmt := range []string{`
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		mode        TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		court       TEXT NOT NULL DEFAULT '',
		slot        TEXT NOT NULL DEFAULT '',
		attempts    INTEGER NOT NULL DEFAULT 0,
		detail      TEXT NOT NULL DEFAULT ''
	)`,
		`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, mode, status, started_at, finished_at, court, slot, attempts, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Mode), string(r.Status),
		r.StartedAt.UTC().Format(tsLayout), r.FinishedAt.UTC().Format(tsLayout),
		r.Court, r.Slot, r.Attempts, r.Detail)
	return err
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, status, started_at, finished_at, court, slot, attempts, detail
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var mode, status, started, finished string
		if err := rows.Scan(&r.ID, &mode, &status, &started, &finished, &r.Court, &r.Slot, &r.Attempts, &r.Detail); err != nil {
			return nil, err
		}
		r.Mode, r.Status = booking.Mode(mode), Status(status)
		if r.StartedAt, err = time.Parse(tsLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(tsLayout, finished); err != nil {
			return nil, fmt.Errorf("run %s: finished_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
