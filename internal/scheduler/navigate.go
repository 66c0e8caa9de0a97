package scheduler

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

const stepNavigate = "navigate"

// Navigator moves the day view forward one day per click and verifies each
// move by reading the displayed date back.
type Navigator struct {
	DayViewLabel string
	NextLabel    string
	// Retries bounds re-clicks of a next-day control that did not advance.
	Retries     int
	StepTimeout time.Duration
	// Poll is the read-back interval while waiting for the date to change.
	Poll time.Duration
	Log  *slog.Logger
}

func (n *Navigator) log() *slog.Logger {
	if n.Log == nil {
		return slog.Default()
	}
	return n.Log
}

// DayView switches the grid to the single-day view. A missing control is
// taken to mean the page is already there.
func (n *Navigator) DayView(ctx context.Context, s surface.Surface) error {
	if n.DayViewLabel == "" {
		return nil
	}
	err := s.ClickButton(ctx, n.DayViewLabel, n.StepTimeout)
	if errors.Is(err, surface.ErrNotVisible) {
		n.log().Debug("day view control not found, assuming day view")
		return nil
	}
	if err != nil {
		return booking.WrapDetection(stepNavigate, err)
	}
	return nil
}

// GoTo advances from the displayed day to target. expect is where the page
// is believed to be; the displayed day must be within one day of it. It
// returns the day shown on success.
func (n *Navigator) GoTo(ctx context.Context, s surface.Surface, expect, target time.Time) (time.Time, error) {
	expect, target = booking.DateOf(expect), booking.DateOf(target)
	cur, err := n.Displayed(ctx, s, expect.AddDate(0, 0, -1), expect, expect.AddDate(0, 0, 1))
	if err != nil {
		return time.Time{}, err
	}
	if cur.After(target) {
		return cur, booking.Detection(stepNavigate, "page shows %s, after target %s", booking.FormatDate(cur), booking.FormatDate(target))
	}

	stuck := 0
	for cur.Before(target) {
		if err := s.ClickButton(ctx, n.NextLabel, n.StepTimeout); err != nil {
			return cur, booking.WrapDetection(stepNavigate, fmt.Errorf("next day: %w", err))
		}
		next := cur.AddDate(0, 0, 1)
		shown, err := n.readBack(ctx, s, cur, next)
		if err != nil {
			return cur, err
		}
		if shown.Equal(cur) {
			stuck++
			n.log().Warn("next-day click did not advance", "shown", booking.FormatDate(cur), "retry", stuck)
			if stuck > n.Retries {
				_ = s.Snapshot(ctx, "navigate-stuck")
				return cur, booking.Detection(stepNavigate, "stuck on %s after %d retries", booking.FormatDate(cur), n.Retries)
			}
			continue
		}
		stuck = 0
		cur = shown
		n.log().Debug("advanced day", "shown", booking.FormatDate(cur))
	}
	return cur, nil
}

// readBack waits for the displayed date to leave cur, accepting only cur or
// next. Anything else, such as a skipped day, is a detection failure.
func (n *Navigator) readBack(ctx context.Context, s surface.Surface, cur, next time.Time) (time.Time, error) {
	poll := n.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(n.StepTimeout)
	for {
		text, err := s.PageText(ctx)
		if err != nil {
			return cur, booking.WrapDetection(stepNavigate, err)
		}
		if dateShown(text, next) && !dateShown(text, cur) {
			return next, nil
		}
		if !dateShown(text, cur) {
			_ = s.Snapshot(ctx, "navigate-mismatch")
			return cur, booking.Detection(stepNavigate, "expected %s or %s after next-day click", booking.FormatDate(cur), booking.FormatDate(next))
		}
		if !time.Now().Before(deadline) {
			return cur, nil
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return cur, booking.WrapDetection(stepNavigate, ctx.Err())
		case <-t.C:
		}
	}
}

// Displayed returns the one candidate date the page shows.
func (n *Navigator) Displayed(ctx context.Context, s surface.Surface, candidates ...time.Time) (time.Time, error) {
	text, err := s.PageText(ctx)
	if err != nil {
		return time.Time{}, booking.WrapDetection(stepNavigate, err)
	}
	var found []time.Time
	for _, c := range candidates {
		if dateShown(text, c) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		_ = s.Snapshot(ctx, "navigate-unknown-date")
		return time.Time{}, booking.Detection(stepNavigate, "displayed date is none of %s", formatDates(candidates))
	default:
		return time.Time{}, booking.Detection(stepNavigate, "displayed date is ambiguous among %s", formatDates(found))
	}
}

// dateShown matches "Monday, January 2", "January 2", "January 02" and
// "Jan 2" as whole words, ignoring case.
func dateShown(text string, d time.Time) bool {
	for _, layout := range []string{"January 2", "January 02", "Jan 2"} {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(d.Format(layout)) + `\b`)
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func formatDates(ds []time.Time) string {
	s := ""
	for i, d := range ds {
		if i > 0 {
			s += ", "
		}
		s += booking.FormatDate(d)
	}
	return s
}
