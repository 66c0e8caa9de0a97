package booking

import (
	"fmt"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

type Mode string

const (
	ModeCheck  Mode = "check"
	ModeBook   Mode = "book"
	ModeDirect Mode = "direct"
)

// Court is a bookable column. Rank is its position in the configured priority
// order, starting at 1.
type Court struct {
	Name string
	Rank int
}

// Courts ranks names in the order given.
func Courts(names []string) []Court {
	out := make([]Court, 0, len(names))
	for i, n := range names {
		out = append(out, Court{Name: n, Rank: i + 1})
	}
	return out
}

// TimeSlot is a one-day interval [StartHour, EndHour) on Date (local midnight).
type TimeSlot struct {
	Date      time.Time
	StartHour int
	EndHour   int
}

func NewTimeSlot(date time.Time, startHour, endHour int) TimeSlot {
	return TimeSlot{Date: DateOf(date), StartHour: startHour, EndHour: endHour}
}

func (s TimeSlot) Start() time.Time {
	return s.Date.Add(time.Duration(s.StartHour) * time.Hour)
}

// Label is the literal row label the booking grid renders for the start hour.
func (s TimeSlot) Label() string { return HourLabel(s.StartHour) }

func (s TimeSlot) String() string {
	return fmt.Sprintf("%s %s-%s", s.Date.Format(dateLayout), HourLabel(s.StartHour), HourLabel(s.EndHour%24))
}

// DateOf truncates t to midnight in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func FormatDate(t time.Time) string { return t.Format(dateLayout) }

func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, loc)
}

type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityAvailable
	AvailabilityBooked
)

func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "available"
	case AvailabilityBooked:
		return "booked"
	default:
		return "unknown"
	}
}

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64
	Y float64
}

// SlotObservation is one scanned grid cell. It is only valid for the scan that
// produced it.
type SlotObservation struct {
	Court        Court
	Slot         TimeSlot
	Position     Point
	Availability Availability
}

func (o SlotObservation) Key() SlotKey {
	return SlotKey{Court: o.Court.Name, Hour: o.Slot.StartHour}
}

type SlotKey struct {
	Court string
	Hour  int
}

// Scan is the complete observation map for one day view.
type Scan struct {
	Date         time.Time
	Observations []SlotObservation

	index map[SlotKey]int
}

// NewScan orders observations by court rank, then hour.
func NewScan(date time.Time, obs []SlotObservation) Scan {
	sorted := append([]SlotObservation(nil), obs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Court.Rank != sorted[j].Court.Rank {
			return sorted[i].Court.Rank < sorted[j].Court.Rank
		}
		return sorted[i].Slot.StartHour < sorted[j].Slot.StartHour
	})
	idx := make(map[SlotKey]int, len(sorted))
	for i, o := range sorted {
		idx[o.Key()] = i
	}
	return Scan{Date: DateOf(date), Observations: sorted, index: idx}
}

func (s Scan) Lookup(court string, hour int) (SlotObservation, bool) {
	i, ok := s.index[SlotKey{Court: court, Hour: hour}]
	if !ok {
		return SlotObservation{}, false
	}
	return s.Observations[i], true
}

// Available lists available cells for a court in hour order.
func (s Scan) Available(court string) []SlotObservation {
	var out []SlotObservation
	for _, o := range s.Observations {
		if o.Court.Name == court && o.Availability == AvailabilityAvailable {
			out = append(out, o)
		}
	}
	return out
}

func (s Scan) AnyAvailable() bool {
	for _, o := range s.Observations {
		if o.Availability == AvailabilityAvailable {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeUnavailable        Outcome = "unavailable"
	OutcomeClickFailed        Outcome = "click-failed"
	OutcomeConfirmationFailed Outcome = "confirmation-failed"
)

type BookingAttempt struct {
	Court   Court
	Slot    TimeSlot
	Outcome Outcome
	Detail  string
	At      time.Time
}

func (a BookingAttempt) Confirmed() bool { return a.Outcome == OutcomeSuccess }

// RunResult is the terminal report of one run. Booked is nil when no booking
// was made, which is a normal outcome.
type RunResult struct {
	ID         string
	Mode       Mode
	StartedAt  time.Time
	FinishedAt time.Time
	Scans      []Scan
	Attempts   []BookingAttempt
	Booked     *BookingAttempt
	Err        error
}

func (r RunResult) Confirmed() bool { return r.Booked != nil }

// SessionState is the opaque authenticated browsing context.
type SessionState struct {
	Blob       []byte
	CapturedAt time.Time
}

// BookRequest asks for one specific cell, as carried by an action token.
type BookRequest struct {
	Date  time.Time
	Court string
	Hour  int
}

func (r BookRequest) String() string {
	return fmt.Sprintf("%s at %s on %s", r.Court, HourLabel(r.Hour), FormatDate(r.Date))
}
