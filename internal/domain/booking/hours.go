package booking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hourLabelRe = regexp.MustCompile(`^(1?[0-9]):([0-5][0-9]) ?(AM|PM)$`)

// HourLabel renders a 24h hour as the grid's 12-hour row label.
// 0 is "12:00 AM" and 12 is "12:00 PM".
func HourLabel(hour int) string {
	h := hour % 12
	if h == 0 {
		h = 12
	}
	period := "AM"
	if hour%24 >= 12 {
		period = "PM"
	}
	return fmt.Sprintf("%d:00 %s", h, period)
}

// NormalizeLabel collapses whitespace and case so "7:00pm" and " 7:00  PM"
// compare equal to HourLabel(19). It returns "" for text that is not an
// H:MM AM|PM label.
func NormalizeLabel(text string) string {
	t := strings.ToUpper(strings.Join(strings.Fields(text), ""))
	if len(t) < 3 {
		return ""
	}
	t = t[:len(t)-2] + " " + t[len(t)-2:]
	if !hourLabelRe.MatchString(t) {
		return ""
	}
	return t
}

// ParseHourLabel converts a top-of-hour label to a 24h hour. The normalized
// text must equal HourLabel of the result, so "12:30 PM" and "13:00 PM" fail.
func ParseHourLabel(text string) (int, error) {
	norm := NormalizeLabel(text)
	if norm == "" {
		return 0, fmt.Errorf("not a time label: %q", text)
	}
	m := hourLabelRe.FindStringSubmatch(norm)
	h, _ := strconv.Atoi(m[1])
	if h < 1 || h > 12 {
		return 0, fmt.Errorf("hour out of range: %q", text)
	}
	hour := h % 12
	if m[3] == "PM" {
		hour += 12
	}
	if HourLabel(hour) != norm {
		return 0, fmt.Errorf("not a top-of-hour label: %q", text)
	}
	return hour, nil
}
