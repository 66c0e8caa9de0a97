// Package history keeps a log of finished runs. Recording is best-effort:
// callers log failures and never change a run's outcome because of them.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/court-sniper/internal/domain/booking"
)

type Status string

const (
	StatusBooked    Status = "booked"
	StatusNotBooked Status = "not-booked"
	StatusChecked   Status = "checked"
	StatusFailed    Status = "failed"
)

type RunRecord struct {
	ID         string
	Mode       booking.Mode
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	Court      string
	Slot       string
	Attempts   int
	Detail     string
}

// FromResult summarizes a run for storage.
func FromResult(res booking.RunResult) RunRecord {
	r := RunRecord{
		ID:         res.ID,
		Mode:       res.Mode,
		StartedAt:  res.StartedAt.UTC(),
		FinishedAt: res.FinishedAt.UTC(),
		Attempts:   len(res.Attempts),
	}
	switch {
	case res.Err != nil:
		r.Status = StatusFailed
		r.Detail = res.Err.Error()
	case res.Booked != nil:
		r.Status = StatusBooked
		r.Court = res.Booked.Court.Name
		r.Slot = res.Booked.Slot.String()
	case res.Mode == booking.ModeCheck:
		r.Status = StatusChecked
		n := 0
		for _, s := range res.Scans {
			for _, o := range s.Observations {
				if o.Availability == booking.AvailabilityAvailable {
					n++
				}
			}
		}
		r.Detail = fmt.Sprintf("%d day(s) scanned, %d open slot(s)", len(res.Scans), n)
	default:
		r.Status = StatusNotBooked
		var parts []string
		for _, a := range res.Attempts {
			parts = append(parts, fmt.Sprintf("%s:%s", a.Court.Name, a.Outcome))
		}
		r.Detail = strings.Join(parts, ", ")
	}
	return r
}

type Recorder interface {
	Save(ctx context.Context, r RunRecord) error
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Nop discards records.
type Nop struct{}

func (Nop) Save(context.Context, RunRecord) error            { return nil }
func (Nop) Recent(context.Context, int) ([]RunRecord, error) { return nil, nil }
func (Nop) Close() error                                     { return nil }

var ErrUnsupportedURL = errors.New("unsupported history database url")

// Open picks a backend from the URL scheme: postgres:// or postgresql:// for
// postgres, sqlite:// for a local file. An empty URL yields Nop.
func Open(ctx context.Context, databaseURL string) (Recorder, error) {
	switch {
	case databaseURL == "":
		return Nop{}, nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, databaseURL)
	}
}
