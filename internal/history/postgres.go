package history

import (
	"context"
	"fmt"

	"github.com/example/court-sniper/internal/db"
	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/migrate"
)

type Postgres struct {
	d *db.DB
}

// OpenPostgres connects and applies pending migrations.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	d, err := db.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Up(ctx, d); err != nil {
		d.Close()
		return nil, err
	}
	return &Postgres{d: d}, nil
}

func (p *Postgres) Save(ctx context.Context, r RunRecord) error {
	return p.d.Exec(ctx, `
		INSERT INTO runs (id, mode, status, started_at, finished_at, court, slot, attempts, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			court = EXCLUDED.court,
			slot = EXCLUDED.slot,
			attempts = EXCLUDED.attempts,
			detail = EXCLUDED.detail`,
		r.ID, string(r.Mode), string(r.Status), r.StartedAt, r.FinishedAt, r.Court, r.Slot, r.Attempts, r.Detail)
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := p.d.Query(ctx, `
		SELECT id, mode, status, started_at, finished_at, court, slot, attempts, detail
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var mode, status string
		if err := rows.Scan(&r.ID, &mode, &status, &r.StartedAt, &r.FinishedAt, &r.Court, &r.Slot, &r.Attempts, &r.Detail); err != nil {
			return nil, err
		}
		r.Mode, r.Status = booking.Mode(mode), Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.d.Close()
	return nil
}
