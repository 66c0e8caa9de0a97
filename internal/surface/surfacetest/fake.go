// Package surfacetest provides a scripted in-memory booking page for tests.
package surfacetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/surface"
)

const (
	LabelBook    = "Book"
	LabelConfirm = "Confirm booking"
	LabelNext    = "›"
	LabelDay     = "Day"
)

// Layout of the rendered grid, in viewport pixels.
const (
	HeaderY     = 100.0
	ColumnX     = 200.0
	ColumnPitch = 120.0
	ColumnWidth = 100.0
	RowY        = 200.0
	RowPitch    = 60.0
	GutterX     = 20.0
)

// Cell is one bookable grid cell. Rect is the clickable area.
type Cell struct {
	Court string
	Hour  int
	Rect  surface.TextBox
	State booking.Availability

	// RejectConfirm makes the confirmation step show an error.
	RejectConfirm bool
	// SlowConfirm records the booking but leaves the confirmation prompt
	// open, as when the site answers after the step timeout.
	SlowConfirm bool
	// TakenAfterClicks flips the cell to booked once it has been clicked this
	// many times; 0 disables.
	TakenAfterClicks int

	clicks int
}

func (c *Cell) contains(p booking.Point) bool {
	return p.X >= c.Rect.X && p.X < c.Rect.X+c.Rect.Width &&
		p.Y >= c.Rect.Y && p.Y < c.Rect.Y+c.Rect.Height
}

// Grid is one day view.
type Grid struct {
	Boxes []surface.TextBox
	Cells []*Cell
}

// NewGrid renders court headers in order and one gutter label per hour in
// [firstHour, lastHour]. Every cell starts booked.
func NewGrid(courts []string, firstHour, lastHour int) *Grid {
	g := &Grid{}
	for i, name := range courts {
		g.Boxes = append(g.Boxes, surface.TextBox{
			Text: name, X: ColumnX + float64(i)*ColumnPitch, Y: HeaderY, Width: ColumnWidth, Height: 30,
		})
	}
	for h := firstHour; h <= lastHour; h++ {
		center := RowY + float64(h-firstHour)*RowPitch
		g.Boxes = append(g.Boxes, surface.TextBox{
			Text: booking.HourLabel(h), X: GutterX, Y: center - 10, Width: 60, Height: 20,
		})
		for i, name := range courts {
			g.Cells = append(g.Cells, &Cell{
				Court: name,
				Hour:  h,
				Rect:  surface.TextBox{X: ColumnX + float64(i)*ColumnPitch, Y: center, Width: ColumnWidth, Height: RowPitch},
				State: booking.AvailabilityBooked,
			})
		}
	}
	return g
}

func (g *Grid) Cell(court string, hour int) *Cell {
	for _, c := range g.Cells {
		if c.Court == court && c.Hour == hour {
			return c
		}
	}
	return nil
}

// Set changes a cell's state and returns the cell for further scripting.
func (g *Grid) Set(court string, hour int, state booking.Availability) *Cell {
	c := g.Cell(court, hour)
	if c == nil {
		panic(fmt.Sprintf("surfacetest: no cell %s@%d", court, hour))
	}
	c.State = state
	return c
}

type popup int

const (
	popupNone popup = iota
	popupBook
	popupConfirm
	popupBooked
	popupError
)

// Fake is a scripted surface.Surface. Zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	Date      time.Time
	Grid      *Grid
	Grids     map[string]*Grid
	LoggedOut bool
	// Banner is page text shown on every view, such as a site notice.
	Banner string

	// StuckClicks next-day clicks are swallowed without advancing.
	StuckClicks int
	// SkipOnClick makes the n-th (1-based) next-day click advance two days.
	SkipOnClick int
	// Fail injects errors per method name.
	Fail map[string]error

	Opened    []string
	Clicks    []booking.Point
	Buttons   []string
	Dismissed int
	Snapshots []string
	Confirmed []string
	DayView   bool

	popup     popup
	active    *Cell
	nextCount int
}

func New(date time.Time, grid *Grid) *Fake {
	return &Fake{Date: booking.DateOf(date), Grid: grid, Fail: map[string]error{}}
}

func (f *Fake) current() *Grid {
	if g, ok := f.Grids[booking.FormatDate(f.Date)]; ok {
		return g
	}
	return f.Grid
}

func (f *Fake) fail(op string) error {
	if f.Fail == nil {
		return nil
	}
	return f.Fail[op]
}

// Interactions counts clicks and button presses.
func (f *Fake) Interactions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Clicks) + len(f.Buttons)
}

func (f *Fake) ButtonPresses(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.Buttons {
		if b == label {
			n++
		}
	}
	return n
}

func (f *Fake) Open(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Open"); err != nil {
		return err
	}
	f.Opened = append(f.Opened, url)
	return nil
}

func (f *Fake) PageText(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("PageText"); err != nil {
		return "", err
	}
	if f.LoggedOut {
		return "Zone Makati VISITOR MODE LOG IN", nil
	}
	parts := []string{"Zone Makati", f.Date.Format("Monday, January 2, 2006")}
	if f.Banner != "" {
		parts = append(parts, f.Banner)
	}
	switch f.popup {
	case popupBooked:
		parts = append(parts, "This space is already booked")
	case popupError:
		parts = append(parts, "Unable to complete booking")
	}
	return strings.Join(parts, "\n"), nil
}

func (f *Fake) TextBoxes(_ context.Context) ([]surface.TextBox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("TextBoxes"); err != nil {
		return nil, err
	}
	g := f.current()
	if g == nil {
		return nil, nil
	}
	return append([]surface.TextBox(nil), g.Boxes...), nil
}

func (f *Fake) ClickAt(_ context.Context, p booking.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ClickAt"); err != nil {
		return err
	}
	f.Clicks = append(f.Clicks, p)
	f.popup, f.active = popupNone, nil
	g := f.current()
	if g == nil {
		return nil
	}
	for _, c := range g.Cells {
		if !c.contains(p) {
			continue
		}
		c.clicks++
		if c.TakenAfterClicks > 0 && c.clicks > c.TakenAfterClicks {
			c.State = booking.AvailabilityBooked
		}
		f.active = c
		switch c.State {
		case booking.AvailabilityAvailable:
			f.popup = popupBook
		case booking.AvailabilityBooked:
			f.popup = popupBooked
		}
		return nil
	}
	return nil
}

func (f *Fake) visible(label string) bool {
	switch label {
	case LabelBook:
		return f.popup == popupBook
	case LabelConfirm:
		return f.popup == popupConfirm || f.popup == popupError
	case LabelNext, LabelDay:
		return !f.LoggedOut
	}
	return false
}

func (f *Fake) WaitButton(_ context.Context, label string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("WaitButton"); err != nil {
		return false, err
	}
	return f.visible(label), nil
}

func (f *Fake) ClickButton(_ context.Context, label string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ClickButton"); err != nil {
		return err
	}
	if !f.visible(label) {
		return surface.ErrNotVisible
	}
	f.Buttons = append(f.Buttons, label)
	switch label {
	case LabelBook:
		f.popup = popupConfirm
	case LabelConfirm:
		if f.active == nil || f.active.RejectConfirm {
			f.popup = popupError
			return nil
		}
		f.active.State = booking.AvailabilityBooked
		f.Confirmed = append(f.Confirmed, fmt.Sprintf("%s %s@%d", booking.FormatDate(f.Date), f.active.Court, f.active.Hour))
		if f.active.SlowConfirm {
			return nil
		}
		f.popup, f.active = popupNone, nil
	case LabelDay:
		f.DayView = true
	case LabelNext:
		f.nextCount++
		if f.StuckClicks > 0 {
			f.StuckClicks--
			return nil
		}
		step := 1
		if f.SkipOnClick == f.nextCount {
			step = 2
		}
		f.Date = f.Date.AddDate(0, 0, step)
		f.popup, f.active = popupNone, nil
	}
	return nil
}

func (f *Fake) WaitGone(_ context.Context, label string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("WaitGone"); err != nil {
		return false, err
	}
	return !f.visible(label), nil
}

func (f *Fake) Dismiss(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Dismiss"); err != nil {
		return err
	}
	f.Dismissed++
	f.popup, f.active = popupNone, nil
	return nil
}

func (f *Fake) Snapshot(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Snapshots = append(f.Snapshots, name)
	return nil
}

var _ surface.Surface = (*Fake)(nil)

// Close is a no-op so a Fake can stand in for a surface.Session.
func (f *Fake) Close() error { return nil }

// Factory hands out the same Fake for every session and records the states
// it was primed with.
type Factory struct {
	Fake   *Fake
	Err    error
	States []booking.SessionState
	mu     sync.Mutex
}

func (fa *Factory) Open(_ context.Context, state booking.SessionState) (surface.Session, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.States = append(fa.States, state)
	if fa.Err != nil {
		return nil, fa.Err
	}
	return fa.Fake, nil
}
