package notify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/example/court-sniper/internal/domain/booking"
)

// Message is a chat payload in Slack's incoming-webhook shape.
type Message struct {
	Text            string  `json:"text"`
	Blocks          []Block `json:"blocks,omitempty"`
	ResponseType    string  `json:"response_type,omitempty"`
	ReplaceOriginal bool    `json:"replace_original,omitempty"`
	// ResponseURL overrides the configured webhook for this message.
	ResponseURL string `json:"-"`
}

type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type Button struct {
	Type     string `json:"type"`
	Text     Text   `json:"text"`
	Value    string `json:"value"`
	ActionID string `json:"action_id"`
}

type Block struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	Elements []any  `json:"elements,omitempty"`
}

// ActionPrefix starts the action_id of every booking button.
const ActionPrefix = "book_slot_"

const maxButtons = 5

func header(s string) Block {
	return Block{Type: "header", Text: &Text{Type: "plain_text", Text: s, Emoji: true}}
}

func section(md string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: md}}
}

func contextBlock(md string) Block {
	return Block{Type: "context", Elements: []any{Text{Type: "mrkdwn", Text: md}}}
}

func divider() Block { return Block{Type: "divider"} }

// TokenEncoder turns a booking request into an opaque button value.
type TokenEncoder interface {
	Encode(req booking.BookRequest) (string, error)
}

// Formatter renders run outcomes. Without Tokens no buttons are emitted.
type Formatter struct {
	TargetHour int
	Location   *time.Location
	Tokens     TokenEncoder
	Now        func() time.Time
}

func (f Formatter) now() time.Time {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	if f.Location != nil {
		return now().In(f.Location)
	}
	return now()
}

func (f Formatter) footer() []Block {
	zone := "local time"
	if f.Location != nil {
		zone = f.Location.String()
	}
	return []Block{divider(), contextBlock(fmt.Sprintf("Checked at %s (%s)", f.now().Format("2006-01-02 15:04:05"), zone))}
}

var actionIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]+`)

func (f Formatter) button(o booking.SlotObservation) (Button, bool) {
	if f.Tokens == nil {
		return Button{}, false
	}
	req := booking.BookRequest{Date: o.Slot.Date, Court: o.Court.Name, Hour: o.Slot.StartHour}
	tok, err := f.Tokens.Encode(req)
	if err != nil {
		return Button{}, false
	}
	label := strings.Replace(o.Court.Name, "Wood ", "W", 1) + " " + o.Slot.Label()
	if len(label) > 24 {
		label = label[:24]
	}
	id := fmt.Sprintf("%s%s_%s_%d", ActionPrefix, booking.FormatDate(o.Slot.Date), o.Court.Name, o.Slot.StartHour)
	return Button{
		Type:     "button",
		Text:     Text{Type: "plain_text", Text: label, Emoji: true},
		Value:    tok,
		ActionID: actionIDUnsafe.ReplaceAllString(id, "_"),
	}, true
}

func (f Formatter) buttons(obs []booking.SlotObservation) []any {
	var out []any
	for _, o := range obs {
		if len(out) == maxButtons {
			break
		}
		if b, ok := f.button(o); ok {
			out = append(out, b)
		}
	}
	return out
}

// split separates a scan's available cells into the target hour and the rest.
func (f Formatter) split(scan booking.Scan) (target, other []booking.SlotObservation) {
	for _, o := range scan.Observations {
		if o.Availability != booking.AvailabilityAvailable {
			continue
		}
		if o.Slot.StartHour == f.TargetHour {
			target = append(target, o)
		} else {
			other = append(other, o)
		}
	}
	return target, other
}

func (f Formatter) dayBlocks(scan booking.Scan) ([]Block, string) {
	target, other := f.split(scan)
	emoji := "🔴"
	switch {
	case len(target) > 0:
		emoji = "✅"
	case len(other) > 0:
		emoji = "🟡"
	}
	day := scan.Date.Format("Monday, 2006-01-02")
	blocks := []Block{divider(), section(fmt.Sprintf("%s *%s*", emoji, day))}
	plain := fmt.Sprintf("%s %s", emoji, day)

	if len(target) > 0 {
		blocks = append(blocks, contextBlock(fmt.Sprintf("*%s:* %s", booking.HourLabel(f.TargetHour), courtList(target))))
		if btns := f.buttons(target); len(btns) > 0 {
			blocks = append(blocks, Block{Type: "actions", Elements: btns})
		}
		plain += fmt.Sprintf(": %s at %s", courtList(target), booking.HourLabel(f.TargetHour))
	}
	if len(other) > 0 {
		blocks = append(blocks, contextBlock("*Other times:* "+slotList(other)))
		if btns := f.buttons(other); len(btns) > 0 {
			blocks = append(blocks, Block{Type: "actions", Elements: btns})
		}
	}
	if len(target) == 0 && len(other) == 0 {
		blocks = append(blocks, contextBlock("_No slots available_"))
	}
	return blocks, plain
}

func courtList(obs []booking.SlotObservation) string {
	names := make([]string, 0, len(obs))
	for _, o := range obs {
		names = append(names, o.Court.Name)
	}
	return strings.Join(names, ", ")
}

func slotList(obs []booking.SlotObservation) string {
	parts := make([]string, 0, len(obs))
	for _, o := range obs {
		parts = append(parts, o.Court.Name+" "+o.Slot.Label())
	}
	return strings.Join(parts, ", ")
}

// Availability summarizes one or more scanned days.
func (f Formatter) Availability(scans []booking.Scan) Message {
	title := "🏓 Court Availability"
	blocks := []Block{
		header(title),
		contextBlock(fmt.Sprintf("📅 Target: *%s* | Tap a button to book", booking.HourLabel(f.TargetHour))),
	}
	lines := []string{title}
	for _, s := range scans {
		b, plain := f.dayBlocks(s)
		blocks = append(blocks, b...)
		lines = append(lines, plain)
	}
	blocks = append(blocks, f.footer()...)
	return Message{Text: strings.Join(lines, "\n"), Blocks: blocks}
}

func (f Formatter) Booked(a booking.BookingAttempt) Message {
	text := fmt.Sprintf("✅ Booked %s for %s", a.Court.Name, a.Slot)
	blocks := append([]Block{header("✅ Court booked"), section(fmt.Sprintf("*%s*\n%s", a.Court.Name, a.Slot))}, f.footer()...)
	return Message{Text: text, Blocks: blocks}
}

// NoBooking lists every attempt and offers whatever else was seen.
func (f Formatter) NoBooking(res booking.RunResult) Message {
	text := "❌ No booking made"
	var lines []string
	for _, a := range res.Attempts {
		line := fmt.Sprintf("• %s %s: %s", a.Court.Name, a.Slot.Label(), a.Outcome)
		if a.Detail != "" {
			line += " (" + a.Detail + ")"
		}
		lines = append(lines, line)
	}
	summary := "No configured court was available at the target time."
	if len(lines) > 0 {
		summary = strings.Join(lines, "\n")
	}
	blocks := []Block{header(text), section(summary)}
	for _, s := range res.Scans {
		b, _ := f.dayBlocks(s)
		blocks = append(blocks, b...)
	}
	blocks = append(blocks, f.footer()...)
	return Message{Text: text + "\n" + summary, Blocks: blocks}
}

// Failure reports a run that could not complete.
func (f Formatter) Failure(mode booking.Mode, err error) Message {
	var title, hint string
	var de *booking.DetectionError
	switch {
	case errors.Is(err, booking.ErrAuthRequired):
		title = "🔐 Login required"
		hint = "The saved session was rejected. Run `courtsniper setup` to log in again."
	case errors.As(err, &de):
		title = "⚠️ Could not read the booking page"
		hint = fmt.Sprintf("Step `%s` failed: %s. No booking was attempted.", de.Step, de.Error())
	default:
		title = "⚠️ Run failed"
		hint = err.Error()
	}
	text := fmt.Sprintf("%s (%s)", title, mode)
	blocks := append([]Block{header(title), section(hint)}, f.footer()...)
	return Message{Text: text + "\n" + hint, Blocks: blocks}
}

// Result picks the message for a finished run.
func (f Formatter) Result(res booking.RunResult) Message {
	switch {
	case res.Err != nil:
		return f.Failure(res.Mode, res.Err)
	case res.Booked != nil:
		return f.Booked(*res.Booked)
	case res.Mode == booking.ModeCheck:
		return f.Availability(res.Scans)
	default:
		return f.NoBooking(res)
	}
}

// Accepted is the immediate acknowledgement of an interactive request.
func (f Formatter) Accepted(req booking.BookRequest) Message {
	return Message{
		Text:         fmt.Sprintf("⏳ Booking %s. The result will follow shortly.", req),
		ResponseType: "in_channel",
	}
}
