package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/executor"
	"github.com/example/court-sniper/internal/history"
	"github.com/example/court-sniper/internal/jobs"
	"github.com/example/court-sniper/internal/locator"
	"github.com/example/court-sniper/internal/notify"
	"github.com/example/court-sniper/internal/surface"
)

// ErrOutsideWindow rejects a direct request for a date that cannot be booked.
var ErrOutsideWindow = errors.New("date outside the booking window")

// SessionSource yields the stored browsing state.
type SessionSource interface {
	Acquire() (booking.SessionState, error)
}

type Sender interface {
	Send(msg notify.Message) bool
}

// Engine runs the check, book and direct-book workflows. Runs never overlap.
type Engine struct {
	BookingURL string
	Courts     []booking.Court
	// TargetStart and TargetEnd bound the slot the book workflow claims.
	TargetStart int
	TargetEnd   int
	// ScanHours are the rows observed by the check workflow.
	ScanHours []int

	Planner   Planner
	Clock     Clock
	Sessions  SessionSource
	Surfaces  surface.Factory
	Locator   *locator.Locator
	Executor  *executor.Executor
	Navigator *Navigator
	History   history.Recorder
	Notifier  Sender
	Formatter notify.Formatter
	Log       *slog.Logger

	mu sync.Mutex
}

func (e *Engine) clock() Clock {
	if e.Clock == nil {
		return SystemClock
	}
	return e.Clock
}

func (e *Engine) log() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

// Check observes today through the end of the booking window and reports
// availability without booking.
func (e *Engine) Check(ctx context.Context) (booking.RunResult, error) {
	return e.run(ctx, booking.ModeCheck, "", e.check)
}

// Book claims the target slot on the window's days in order. With wait it
// first holds until just before the next release.
func (e *Engine) Book(ctx context.Context, wait bool) (booking.RunResult, error) {
	return e.run(ctx, booking.ModeBook, "", func(ctx context.Context, s surface.Surface, res *booking.RunResult) error {
		return e.book(ctx, s, res, wait, time.Time{})
	})
}

// BookSlot claims one specific cell.
func (e *Engine) BookSlot(ctx context.Context, req booking.BookRequest) (booking.RunResult, error) {
	return e.bookSlot(ctx, req, "")
}

func (e *Engine) bookSlot(ctx context.Context, req booking.BookRequest, replyTo string) (booking.RunResult, error) {
	return e.run(ctx, booking.ModeDirect, replyTo, func(ctx context.Context, s surface.Surface, res *booking.RunResult) error {
		return e.direct(ctx, s, res, req)
	})
}

// HandleJob runs a queued job; results go to the job's ResponseURL when set.
func (e *Engine) HandleJob(ctx context.Context, j jobs.Job) error {
	var err error
	switch j.Kind {
	case jobs.KindCheck:
		_, err = e.run(ctx, booking.ModeCheck, j.ResponseURL, e.check)
	case jobs.KindBook:
		_, err = e.run(ctx, booking.ModeBook, j.ResponseURL, func(ctx context.Context, s surface.Surface, res *booking.RunResult) error {
			return e.book(ctx, s, res, j.WaitForRelease, j.ReleaseAt)
		})
	case jobs.KindDirect:
		_, err = e.bookSlot(ctx, *j.Request, j.ResponseURL)
	default:
		err = fmt.Errorf("unknown job kind %q", j.Kind)
	}
	return err
}

type workflow func(ctx context.Context, s surface.Surface, res *booking.RunResult) error

func (e *Engine) run(ctx context.Context, mode booking.Mode, replyTo string, fn workflow) (booking.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := booking.RunResult{ID: uuid.NewString(), Mode: mode, StartedAt: e.clock().Now()}
	log := e.log().With("run_id", res.ID, "mode", string(mode))
	log.Info("run started")

	res.Err = e.session(ctx, log, &res, fn)
	res.FinishedAt = e.clock().Now()

	switch {
	case res.Err != nil:
		log.Error("run failed", "err", res.Err, "took", res.FinishedAt.Sub(res.StartedAt))
	case res.Booked != nil:
		log.Info("run booked", "court", res.Booked.Court.Name, "slot", res.Booked.Slot.String(), "took", res.FinishedAt.Sub(res.StartedAt))
	default:
		log.Info("run finished", "attempts", len(res.Attempts), "days", len(res.Scans), "took", res.FinishedAt.Sub(res.StartedAt))
	}

	if e.History != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := e.History.Save(hctx, history.FromResult(res)); err != nil {
			log.Warn("history not recorded", "err", err)
		}
		cancel()
	}
	if e.Notifier != nil {
		msg := e.Formatter.Result(res)
		msg.ResponseURL = replyTo
		e.Notifier.Send(msg)
	}
	return res, res.Err
}

func (e *Engine) session(ctx context.Context, log *slog.Logger, res *booking.RunResult, fn workflow) error {
	state, err := e.Sessions.Acquire()
	if err != nil {
		return err
	}
	s, err := e.Surfaces.Open(ctx, state)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("close surface", "err", err)
		}
	}()

	err = fn(ctx, s, res)
	var de *booking.DetectionError
	if errors.As(err, &de) {
		_ = s.Snapshot(ctx, "failure-"+de.Step)
	}
	return err
}

// load opens the booking page, verifies the session and switches to the
// day view.
func (e *Engine) load(ctx context.Context, s surface.Surface) error {
	if err := s.Open(ctx, e.BookingURL); err != nil {
		return booking.WrapDetection("open", err)
	}
	_ = s.Snapshot(ctx, "booking-page")
	if err := e.Locator.CheckAuth(ctx, s); err != nil {
		return err
	}
	return e.Navigator.DayView(ctx, s)
}

func (e *Engine) check(ctx context.Context, s surface.Surface, res *booking.RunResult) error {
	if err := e.load(ctx, s); err != nil {
		return err
	}
	today := e.Planner.Today(e.clock().Now())
	_, end := e.Planner.Window(today)
	shown := today
	for _, day := range Days(today, end) {
		var err error
		if shown, err = e.Navigator.GoTo(ctx, s, shown, day); err != nil {
			return err
		}
		scan, err := e.Locator.Scan(ctx, s, day, e.Courts, e.ScanHours)
		if err != nil {
			return err
		}
		res.Scans = append(res.Scans, scan)
	}
	return nil
}

// book claims the target slot. With wait it books the window opened by
// release, or by the next release when release is zero. A release that has
// already passed is booked at once.
func (e *Engine) book(ctx context.Context, s surface.Surface, res *booking.RunResult, wait bool, release time.Time) error {
	loadedAt := e.clock().Now()
	if err := e.load(ctx, s); err != nil {
		return err
	}
	start, end := e.Planner.Window(e.Planner.Today(loadedAt))
	if wait {
		plan := e.Planner.Plan(loadedAt)
		if !release.IsZero() {
			plan = e.Planner.For(release)
		}
		start, end = plan.WindowStart, plan.WindowEnd
		if late := e.clock().Now().Sub(plan.FireAt); late > 0 {
			e.log().Warn("release already passed, booking now", "release_at", plan.ReleaseAt.Format(time.RFC3339), "late", late.Round(time.Millisecond))
		} else if err := WaitUntil(ctx, e.clock(), plan.FireAt, e.log()); err != nil {
			return err
		}
		// Reload when the page predates the release.
		if loadedAt.Before(plan.FireAt) {
			if err := e.load(ctx, s); err != nil {
				return err
			}
		}
	}

	shown := e.Planner.Today(e.clock().Now())
	for _, day := range Days(start, end) {
		var err error
		if shown, err = e.Navigator.GoTo(ctx, s, shown, day); err != nil {
			return err
		}
		_ = s.Snapshot(ctx, "day-"+booking.FormatDate(day))
		// Only the start row decides the slot; the executor clicks nothing else.
		scan, err := e.Locator.Scan(ctx, s, day, e.Courts, []int{e.TargetStart})
		if err != nil {
			return err
		}
		res.Scans = append(res.Scans, scan)

		out, err := e.Executor.Book(ctx, s, scan, e.Courts, booking.NewTimeSlot(day, e.TargetStart, e.TargetEnd))
		res.Attempts = append(res.Attempts, out.Attempts...)
		if err != nil {
			return err
		}
		if out.Booked != nil {
			res.Booked = out.Booked
			return nil
		}
	}
	return nil
}

func (e *Engine) direct(ctx context.Context, s surface.Surface, res *booking.RunResult, req booking.BookRequest) error {
	today := e.Planner.Today(e.clock().Now())
	// The request carries a calendar date; anchor it in the booking location.
	day := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), 0, 0, 0, 0, today.Location())
	switch {
	case day.Before(today):
		return fmt.Errorf("%w: %s is in the past", ErrOutsideWindow, booking.FormatDate(day))
	case day.After(today.AddDate(0, 0, e.Planner.DaysAhead)):
		return fmt.Errorf("%w: %s is more than %d days ahead", ErrOutsideWindow, booking.FormatDate(day), e.Planner.DaysAhead)
	}

	court := booking.Court{Name: req.Court, Rank: 1}
	for _, c := range e.Courts {
		if c.Name == req.Court {
			court = c
		}
	}
	courts := []booking.Court{court}

	if err := e.load(ctx, s); err != nil {
		return err
	}
	if _, err := e.Navigator.GoTo(ctx, s, today, day); err != nil {
		return err
	}
	scan, err := e.Locator.Scan(ctx, s, day, courts, []int{req.Hour})
	if err != nil {
		return err
	}
	res.Scans = append(res.Scans, scan)
	out, err := e.Executor.Book(ctx, s, scan, courts, booking.NewTimeSlot(day, req.Hour, req.Hour+1))
	res.Attempts = append(res.Attempts, out.Attempts...)
	res.Booked = out.Booked
	return err
}
