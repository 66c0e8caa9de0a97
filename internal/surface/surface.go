// Package surface is the boundary between the booking engine and whatever
// renders the vendor booking page. Everything above it deals in positions and
// visible text only.
package surface

import (
	"context"
	"errors"
	"time"

	"github.com/example/court-sniper/internal/domain/booking"
)

// ErrNotVisible reports that a bounded wait expired without the affordance
// appearing. Any other error from a Surface is a detection failure.
var ErrNotVisible = errors.New("affordance not visible")

// TextBox is a visible text node and its bounding rect in viewport pixels.
type TextBox struct {
	Text   string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (b TextBox) Center() booking.Point {
	return booking.Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

type Surface interface {
	Open(ctx context.Context, url string) error
	PageText(ctx context.Context) (string, error)
	TextBoxes(ctx context.Context) ([]TextBox, error)
	ClickAt(ctx context.Context, p booking.Point) error
	// WaitButton reports whether a button with exactly label becomes visible
	// within timeout. Expiry is (false, nil).
	WaitButton(ctx context.Context, label string, timeout time.Duration) (bool, error)
	// ClickButton clicks the button labelled exactly label, returning
	// ErrNotVisible if none shows up within timeout.
	ClickButton(ctx context.Context, label string, timeout time.Duration) error
	// WaitGone reports whether a visible button labelled label disappears
	// within timeout.
	WaitGone(ctx context.Context, label string, timeout time.Duration) (bool, error)
	// Dismiss closes any open popup or dialog.
	Dismiss(ctx context.Context) error
	Snapshot(ctx context.Context, name string) error
}

// Session is a Surface that owns resources until closed.
type Session interface {
	Surface
	Close() error
}

// Factory opens a Session primed with a stored browsing state.
type Factory interface {
	Open(ctx context.Context, state booking.SessionState) (Session, error)
}
