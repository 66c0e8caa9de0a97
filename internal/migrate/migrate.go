// Package migrate applies the embedded postgres schema in file-name order.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/example/court-sniper/internal/db"
)

//go:embed *.sql
var files embed.FS

// Store is the subset of *db.DB migrations need.
type Store interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) db.Row
	Tx(ctx context.Context, fn func(q db.Querier) error) error
}

// Versions lists the embedded migration files in apply order.
func Versions() ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Up applies every migration not yet recorded and returns the ones applied.
func Up(ctx context.Context, s Store) ([]string, error) {
	versions, err := Versions()
	if err != nil {
		return nil, err
	}
	if err := s.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("migrate: bootstrap: %w", err)
	}

	var applied []string
	for _, v := range versions {
		var done bool
		if err := s.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, v).Scan(&done); err != nil {
			return applied, fmt.Errorf("migrate: check %s: %w", v, err)
		}
		if done {
			continue
		}
		b, err := files.ReadFile(v)
		if err != nil {
			return applied, err
		}
		// A migration and its record commit together.
		err = s.Tx(ctx, func(q db.Querier) error {
			if err := q.Exec(ctx, string(b)); err != nil {
				return fmt.Errorf("apply: %w", err)
			}
			return q.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, v)
		})
		if err != nil {
			return applied, fmt.Errorf("migrate: %s: %w", v, err)
		}
		applied = append(applied, v)
	}
	return applied, nil
}
