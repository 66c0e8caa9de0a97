// Package locator turns a rendered day view into a map of (court, hour) to
// screen position and availability, using only visible text positions.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/surface"
)

// Options tune anchor matching and probing. Zero values take defaults.
type Options struct {
	BookLabel        string
	BookedMarkers    []string
	LoggedOutMarkers []string
	CellTimeout      time.Duration

	MaxHeaderLen   int
	MinHeaderWidth float64
	GutterMaxX     float64
	GutterMaxWidth float64
	RowMinHeight   float64
	RowMaxHeight   float64
	// Tolerance is the distance under which two anchor centers are the same.
	Tolerance float64
}

func (o Options) withDefaults() Options {
	if o.BookLabel == "" {
		o.BookLabel = "Book"
	}
	if len(o.BookedMarkers) == 0 {
		o.BookedMarkers = []string{"already", "scheduled"}
	}
	if len(o.LoggedOutMarkers) == 0 {
		o.LoggedOutMarkers = []string{"VISITOR MODE", "LOG IN"}
	}
	if o.CellTimeout <= 0 {
		o.CellTimeout = 1500 * time.Millisecond
	}
	if o.MaxHeaderLen <= 0 {
		o.MaxHeaderLen = 25
	}
	if o.MinHeaderWidth <= 0 {
		o.MinHeaderWidth = 50
	}
	if o.GutterMaxX <= 0 {
		o.GutterMaxX = 150
	}
	if o.GutterMaxWidth <= 0 {
		o.GutterMaxWidth = 100
	}
	if o.RowMinHeight <= 0 {
		o.RowMinHeight = 10
	}
	if o.RowMaxHeight <= 0 {
		o.RowMaxHeight = 50
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 4
	}
	return o
}

type Locator struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options, log *slog.Logger) *Locator {
	if log == nil {
		log = slog.Default()
	}
	return &Locator{opts: opts.withDefaults(), log: log}
}

// CheckAuth returns booking.ErrAuthRequired when the page shows a logged-out
// marker instead of the booking grid.
func (l *Locator) CheckAuth(ctx context.Context, s surface.Surface) error {
	text, err := s.PageText(ctx)
	if err != nil {
		return booking.WrapDetection("auth-check", err)
	}
	for _, m := range l.opts.LoggedOutMarkers {
		if m != "" && strings.Contains(text, m) {
			return booking.ErrAuthRequired
		}
	}
	return nil
}

// Anchors are the resolved column and row centers of one day view.
type Anchors struct {
	Columns map[string]float64
	Rows    map[int]float64
	// Pitch is the median vertical distance between adjacent gutter rows.
	Pitch float64
}

// Cell is the click target for court at hour: the column center and the
// vertical middle of the hour's band.
func (a Anchors) Cell(court string, hour int) booking.Point {
	y := a.Rows[hour]
	if next, ok := a.Rows[hour+1]; ok {
		y = (y + next) / 2
	} else {
		y += a.Pitch / 2
	}
	return booking.Point{X: a.Columns[court], Y: y}
}

// Resolve finds column and row anchors without interacting with the page.
func (l *Locator) Resolve(boxes []surface.TextBox, courts []booking.Court, hours []int) (Anchors, error) {
	cols, err := l.columns(boxes, courts)
	if err != nil {
		return Anchors{}, err
	}
	rows, pitch, err := l.rows(boxes, hours)
	if err != nil {
		return Anchors{}, err
	}
	return Anchors{Columns: cols, Rows: rows, Pitch: pitch}, nil
}

func wordRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\pL\pN])` + regexp.QuoteMeta(name) + `([^\pL\pN]|$)`)
}

func (l *Locator) columns(boxes []surface.TextBox, courts []booking.Court) (map[string]float64, error) {
	out := make(map[string]float64, len(courts))
	for _, c := range courts {
		re := wordRe(c.Name)
		var centers []booking.Point
		for _, b := range boxes {
			text := strings.TrimSpace(b.Text)
			if len(text) >= l.opts.MaxHeaderLen || b.Width < l.opts.MinHeaderWidth || !re.MatchString(text) {
				continue
			}
			centers = appendDistinct(centers, b.Center(), l.opts.Tolerance)
		}
		switch len(centers) {
		case 0:
			return nil, booking.Detection("columns", "court %q header not found", c.Name)
		case 1:
		default:
			return nil, booking.Detection("columns", "court %q header matched %d columns", c.Name, len(centers))
		}
		x := centers[0].X
		for other, ox := range out {
			if math.Abs(ox-x) <= l.opts.Tolerance {
				return nil, booking.Detection("columns", "courts %q and %q share one column", other, c.Name)
			}
		}
		out[c.Name] = x
	}
	return out, nil
}

func (l *Locator) rows(boxes []surface.TextBox, hours []int) (map[int]float64, float64, error) {
	byLabel := map[string][]float64{}
	var all []float64
	for _, b := range boxes {
		if b.X >= l.opts.GutterMaxX || b.Width >= l.opts.GutterMaxWidth ||
			b.Height <= l.opts.RowMinHeight || b.Height >= l.opts.RowMaxHeight {
			continue
		}
		label := booking.NormalizeLabel(b.Text)
		if label == "" {
			continue
		}
		y := b.Center().Y
		byLabel[label] = appendDistinctY(byLabel[label], y, l.opts.Tolerance)
		all = appendDistinctY(all, y, l.opts.Tolerance)
	}
	if len(all) == 0 {
		return nil, 0, booking.Detection("rows", "no time labels in the gutter")
	}

	pitch := medianPitch(all)
	rows := map[int]float64{}
	lookup := func(hour int) (float64, bool, error) {
		ys := byLabel[booking.HourLabel(hour)]
		switch len(ys) {
		case 0:
			return 0, false, nil
		case 1:
			return ys[0], true, nil
		default:
			return 0, false, booking.Detection("rows", "label %q rendered %d times", booking.HourLabel(hour), len(ys))
		}
	}
	for _, h := range hours {
		y, ok, err := lookup(h)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, booking.Detection("rows", "label %q not found", booking.HourLabel(h))
		}
		rows[h] = y
	}
	for _, h := range hours {
		if _, wanted := rows[h+1]; wanted || h+1 > 23 {
			continue
		}
		y, ok, err := lookup(h + 1)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			rows[h+1] = y
		}
	}
	for _, h := range hours {
		if next, ok := rows[h+1]; ok && next <= rows[h] {
			return nil, 0, booking.Detection("rows", "label %q is not below %q", booking.HourLabel(h+1), booking.HourLabel(h))
		}
		if _, ok := rows[h+1]; !ok && pitch <= 0 {
			return nil, 0, booking.Detection("rows", "cannot infer row height below %q", booking.HourLabel(h))
		}
	}
	return rows, pitch, nil
}

// Scan resolves anchors and inspects every (court, hour) cell in priority then
// hour order. It never returns a partial map.
func (l *Locator) Scan(ctx context.Context, s surface.Surface, date time.Time, courts []booking.Court, hours []int) (booking.Scan, error) {
	if err := l.CheckAuth(ctx, s); err != nil {
		return booking.Scan{}, err
	}
	boxes, err := s.TextBoxes(ctx)
	if err != nil {
		return booking.Scan{}, booking.WrapDetection("text-boxes", err)
	}
	anchors, err := l.Resolve(boxes, courts, hours)
	if err != nil {
		_ = s.Snapshot(ctx, "detection-"+booking.FormatDate(date))
		return booking.Scan{}, err
	}

	ordered := append([]booking.Court(nil), courts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })
	sortedHours := append([]int(nil), hours...)
	sort.Ints(sortedHours)

	obs := make([]booking.SlotObservation, 0, len(ordered)*len(sortedHours))
	for _, c := range ordered {
		for _, h := range sortedHours {
			if err := ctx.Err(); err != nil {
				return booking.Scan{}, err
			}
			p := anchors.Cell(c.Name, h)
			state, err := l.inspect(ctx, s, p)
			if err != nil {
				return booking.Scan{}, err
			}
			l.log.Debug("inspected cell", "court", c.Name, "slot", booking.HourLabel(h), "x", p.X, "y", p.Y, "state", state.String())
			obs = append(obs, booking.SlotObservation{
				Court:        c,
				Slot:         booking.NewTimeSlot(date, h, h+1),
				Position:     p,
				Availability: state,
			})
		}
	}
	scan := booking.NewScan(date, obs)
	l.log.Info("scan complete", "date", booking.FormatDate(date), "cells", len(obs), "any_available", scan.AnyAvailable())
	return scan, nil
}

func (l *Locator) inspect(ctx context.Context, s surface.Surface, p booking.Point) (booking.Availability, error) {
	if err := s.ClickAt(ctx, p); err != nil {
		return booking.AvailabilityUnknown, booking.WrapDetection("inspect", err)
	}
	state := booking.AvailabilityUnknown
	ok, err := s.WaitButton(ctx, l.opts.BookLabel, l.opts.CellTimeout)
	if err != nil {
		return state, booking.WrapDetection("inspect", err)
	}
	if ok {
		state = booking.AvailabilityAvailable
	} else {
		text, err := s.PageText(ctx)
		if err != nil {
			return state, booking.WrapDetection("inspect", err)
		}
		if containsFold(text, l.opts.BookedMarkers) {
			state = booking.AvailabilityBooked
		}
	}
	if err := s.Dismiss(ctx); err != nil {
		return state, booking.WrapDetection("dismiss", err)
	}
	return state, nil
}

func containsFold(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func appendDistinct(ps []booking.Point, p booking.Point, tol float64) []booking.Point {
	for _, q := range ps {
		if math.Abs(q.X-p.X) <= tol && math.Abs(q.Y-p.Y) <= tol {
			return ps
		}
	}
	return append(ps, p)
}

func appendDistinctY(ys []float64, y, tol float64) []float64 {
	for _, v := range ys {
		if math.Abs(v-y) <= tol {
			return ys
		}
	}
	return append(ys, y)
}

func medianPitch(ys []float64) float64 {
	if len(ys) < 2 {
		return 0
	}
	sorted := append([]float64(nil), ys...)
	sort.Float64s(sorted)
	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i]-sorted[i-1])
	}
	sort.Float64s(gaps)
	return gaps[len(gaps)/2]
}

func (a Anchors) String() string {
	return fmt.Sprintf("%d columns, %d rows, pitch %.1f", len(a.Columns), len(a.Rows), a.Pitch)
}
