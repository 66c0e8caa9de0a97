// Package executor drives the click sequence that claims one slot, falling
// back across courts in priority order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/surface"
)

type state int

const (
	stateIdle state = iota
	stateSlotSelected
	stateBookPromptShown
	stateConfirmationRequested
	stateConfirmed
	stateRejected
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSlotSelected:
		return "slot-selected"
	case stateBookPromptShown:
		return "book-prompt-shown"
	case stateConfirmationRequested:
		return "confirmation-requested"
	case stateConfirmed:
		return "confirmed"
	default:
		return "rejected"
	}
}

type Options struct {
	BookLabel    string
	ConfirmLabel string
	ErrorMarkers []string
	// StepTimeout bounds each wait for an affordance.
	StepTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BookLabel == "" {
		o.BookLabel = "Book"
	}
	if o.ConfirmLabel == "" {
		o.ConfirmLabel = "Confirm booking"
	}
	if len(o.ErrorMarkers) == 0 {
		o.ErrorMarkers = []string{"error", "not available", "unable"}
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 2 * time.Second
	}
	return o
}

type Executor struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

func New(opts Options, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{opts: opts.withDefaults(), log: log, now: time.Now}
}

// Book attempts the available observations for slot in the priority order of
// courts and stops at the first confirmation. Courts that were not observed
// as available are never touched. A nil Booked with a nil error is the normal
// "no booking made" outcome; the error is reserved for detection failures,
// which abort without further attempts.
func (e *Executor) Book(ctx context.Context, s surface.Surface, scan booking.Scan, courts []booking.Court, slot booking.TimeSlot) (booking.RunResult, error) {
	var res booking.RunResult
	attempted := map[booking.SlotKey]bool{}

	candidates := booking.Candidates(scan, courts, slot.StartHour)
	if len(candidates) == 0 {
		e.log.Info("no available court for slot", "slot", slot.String())
		return res, nil
	}

	for _, obs := range candidates {
		key := obs.Key()
		if attempted[key] {
			continue
		}
		attempted[key] = true

		attempt, submitted, err := e.attempt(ctx, s, obs, slot)
		res.Attempts = append(res.Attempts, attempt)
		if err != nil {
			return res, err
		}
		e.log.Info("booking attempt", "court", obs.Court.Name, "slot", slot.String(), "outcome", string(attempt.Outcome), "detail", attempt.Detail)
		if attempt.Confirmed() {
			booked := attempt
			res.Booked = &booked
			return res, nil
		}
		// The site may have taken the booking; another court could double it.
		if submitted {
			e.log.Warn("confirmation outcome unknown, not trying further courts", "court", obs.Court.Name, "slot", slot.String())
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// attempt runs the per-court state machine to a terminal state. It is not
// abandoned on context cancellation once the first click has been made.
// submitted reports a confirm click whose outcome could not be established.
func (e *Executor) attempt(ctx context.Context, s surface.Surface, obs booking.SlotObservation, slot booking.TimeSlot) (a booking.BookingAttempt, submitted bool, err error) {
	a = booking.BookingAttempt{Court: obs.Court, Slot: slot}
	st := stateIdle
	ctx = context.WithoutCancel(ctx)

	reject := func(outcome booking.Outcome, detail string) (booking.BookingAttempt, bool, error) {
		e.log.Debug("attempt rejected", "court", obs.Court.Name, "state", st.String(), "outcome", string(outcome))
		a.Outcome, a.Detail, a.At = outcome, detail, e.now()
		if err := s.Dismiss(ctx); err != nil {
			return a, submitted, booking.WrapDetection(st.String(), err)
		}
		return a, submitted, nil
	}
	fail := func(err error) (booking.BookingAttempt, bool, error) {
		a.Outcome, a.Detail, a.At = booking.OutcomeClickFailed, err.Error(), e.now()
		_ = s.Snapshot(ctx, "detection-"+st.String())
		return a, submitted, booking.WrapDetection(st.String(), err)
	}

	if err := s.ClickAt(ctx, obs.Position); err != nil {
		return fail(err)
	}
	st = stateSlotSelected

	shown, err := s.WaitButton(ctx, e.opts.BookLabel, e.opts.StepTimeout)
	if err != nil {
		return fail(err)
	}
	if !shown {
		return reject(booking.OutcomeUnavailable, "book prompt did not appear")
	}
	st = stateBookPromptShown
	_ = s.Snapshot(ctx, "book-prompt")

	if err := s.ClickButton(ctx, e.opts.BookLabel, e.opts.StepTimeout); err != nil {
		if errors.Is(err, surface.ErrNotVisible) {
			return reject(booking.OutcomeClickFailed, "book prompt vanished before click")
		}
		return fail(err)
	}
	st = stateConfirmationRequested

	// Markers already on the page before confirming are not the site's answer.
	before, err := s.PageText(ctx)
	if err != nil {
		return fail(err)
	}
	if err := s.ClickButton(ctx, e.opts.ConfirmLabel, e.opts.StepTimeout); err != nil {
		if errors.Is(err, surface.ErrNotVisible) {
			return reject(booking.OutcomeConfirmationFailed, "confirmation prompt did not appear")
		}
		return fail(err)
	}
	gone, err := s.WaitGone(ctx, e.opts.ConfirmLabel, e.opts.StepTimeout)
	if err != nil {
		return fail(err)
	}
	after, err := s.PageText(ctx)
	if err != nil {
		return fail(err)
	}
	if marker := newMarker(before, after, e.opts.ErrorMarkers); marker != "" {
		return reject(booking.OutcomeConfirmationFailed, fmt.Sprintf("site reported %q", marker))
	}
	if !gone {
		submitted = true
		_ = s.Snapshot(ctx, "confirmation-unknown")
		return reject(booking.OutcomeConfirmationFailed, "confirmation prompt stayed open; the booking may have been made")
	}

	st = stateConfirmed
	_ = s.Snapshot(ctx, "booking-confirmed")
	a.Outcome, a.At = booking.OutcomeSuccess, e.now()
	return a, false, nil
}

// newMarker returns the first marker that occurs as a whole word more often
// in after than in before.
func newMarker(before, after string, markers []string) string {
	for _, m := range markers {
		if m == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(m) + `\b`)
		if len(re.FindAllStringIndex(after, -1)) > len(re.FindAllStringIndex(before, -1)) {
			return m
		}
	}
	return ""
}
