package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/court-sniper/internal/domain/booking"
)

// Clock abstracts time for the release wait.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Planner derives release instants and booking windows from configuration.
type Planner struct {
	Location *time.Location
	// ReleaseOffset is the release time of day as an offset from midnight.
	ReleaseOffset time.Duration
	Lead          time.Duration
	DaysAhead     int
	WindowDays    int
}

type Plan struct {
	ReleaseAt   time.Time
	FireAt      time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

func (p Planner) loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// Today is the local booking date of now.
func (p Planner) Today(now time.Time) time.Time {
	return booking.DateOf(now.In(p.loc()))
}

// Plan returns the next release at or after now.
func (p Planner) Plan(now time.Time) Plan {
	local := now.In(p.loc())
	day := booking.DateOf(local)
	release := p.releaseOn(day)
	if release.Before(local) {
		release = p.releaseOn(day.AddDate(0, 0, 1))
	}
	return p.For(release)
}

// For is the plan of one known release instant, past or future.
func (p Planner) For(release time.Time) Plan {
	release = release.In(p.loc())
	start, end := p.Window(booking.DateOf(release))
	return Plan{
		ReleaseAt:   release,
		FireAt:      release.Add(-p.Lead),
		WindowStart: start,
		WindowEnd:   end,
	}
}

// Window is the range of bookable target dates opened by the release on base.
func (p Planner) Window(base time.Time) (start, end time.Time) {
	n := p.WindowDays
	if n < 1 {
		n = 1
	}
	start = booking.DateOf(base).AddDate(0, 0, p.DaysAhead)
	return start, start.AddDate(0, 0, n-1)
}

// releaseOn builds the wall-clock release instant on day so that DST shifts
// keep the configured time of day.
func (p Planner) releaseOn(day time.Time) time.Time {
	off := p.ReleaseOffset
	h, m, s := int(off/time.Hour), int(off%time.Hour/time.Minute), int(off%time.Minute/time.Second)
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, s, int(off%time.Second), p.loc())
}

// Days lists every date in [start, end].
func Days(start, end time.Time) []time.Time {
	var out []time.Time
	for d := booking.DateOf(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

const (
	finePoll     = 10 * time.Millisecond
	fineWindow   = 2 * time.Second
	progressTick = 30 * time.Second
)

// WaitUntil blocks until clock reaches t, sleeping coarsely and then polling
// finely over the last moments. It returns ctx.Err() when cancelled first.
func WaitUntil(ctx context.Context, clock Clock, t time.Time, log *slog.Logger) error {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	lastLog := clock.Now()
	if rem := t.Sub(lastLog); rem > 0 {
		log.Info("waiting", "until", t.Format(time.RFC3339Nano), "remaining", rem.Round(time.Millisecond))
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := clock.Now()
		rem := t.Sub(now)
		if rem <= 0 {
			return nil
		}
		if now.Sub(lastLog) >= progressTick {
			log.Info("still waiting", "remaining", rem.Round(100*time.Millisecond))
			lastLog = now
		}
		step := finePoll
		if rem > fineWindow {
			step = min(rem-fineWindow, progressTick)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(step):
		}
	}
}
