package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-sniper/internal/config"
	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/history"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SNIPER_CONFIG", "")
	t.Setenv("LOG_LEVEL", "error")
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"check", "book", "setup", "server", "history", "session", "keys", "version"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	c, _, err := root.Find([]string{"session", "clear"})
	require.NoError(t, err)
	assert.Equal(t, "clear", c.Name())
}

func TestKeys(t *testing.T) {
	out, err := run(t, "keys")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for i, name := range generatedKeys {
		prefix := "export " + name + "="
		require.True(t, strings.HasPrefix(lines[i], prefix), lines[i])
		k, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(lines[i], prefix))
		require.NoError(t, err)
		assert.Len(t, k, 32)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "courtsniper dev")
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	t.Setenv("TIMEZONE", "Nowhere/Atlantis")
	_, err := run(t, "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEZONE")

	t.Setenv("TIMEZONE", "Asia/Manila")
	t.Setenv("TARGET_START_HOUR", "22")
	t.Setenv("TARGET_END_HOUR", "20")
	_, err = run(t, "book")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TARGET_START_HOUR")
}

func TestServerRequiresSigningSecret(t *testing.T) {
	t.Setenv("SLACK_SIGNING_SECRET", "")
	_, err := run(t, "server")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLACK_SIGNING_SECRET")
}

func TestSessionClear(t *testing.T) {
	t.Setenv("SESSION_FILE", filepath.Join(t.TempDir(), "auth.json"))
	out, err := run(t, "session", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")
}

func TestHistory(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := run(t, "history")
	require.Error(t, err)

	url := "sqlite://" + filepath.Join(t.TempDir(), "runs.db")
	rec, err := history.Open(context.Background(), url)
	require.NoError(t, err)
	start := time.Date(2026, 2, 7, 23, 59, 0, 0, time.UTC)
	require.NoError(t, rec.Save(context.Background(), history.RunRecord{
		ID: "r1", Mode: booking.ModeBook, Status: history.StatusBooked,
		StartedAt: start, FinishedAt: start.Add(2 * time.Second),
		Court: "Wood 2", Slot: "2026-02-08 7:00 PM-8:00 PM", Attempts: 2,
	}))
	require.NoError(t, rec.Close())

	t.Setenv("DATABASE_URL", url)
	out, err := run(t, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "booked")
	assert.Contains(t, out, "Wood 2")
	assert.Contains(t, out, "2026-02-08 07:59:00", "start is shown in the booking timezone")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Manila")
	require.NoError(t, err)
	return config.Config{Courts: []string{"Wood 1", "Wood 2"}, TargetStartHour: 19, Location: loc}
}

func TestSlotRequest(t *testing.T) {
	cfg := testConfig(t)

	req, err := slotRequest(cfg, "2026-02-08", "", -1)
	require.NoError(t, err)
	assert.Equal(t, "Wood 1", req.Court)
	assert.Equal(t, 19, req.Hour)
	assert.Equal(t, "2026-02-08", booking.FormatDate(req.Date))

	req, err = slotRequest(cfg, "2026-02-08", "wood 2", 20)
	require.NoError(t, err)
	assert.Equal(t, "Wood 2", req.Court)
	assert.Equal(t, 20, req.Hour)

	_, err = slotRequest(cfg, "08/02/2026", "", -1)
	assert.Error(t, err)
	_, err = slotRequest(cfg, "2026-02-08", "Glass 1", -1)
	assert.Error(t, err)
	_, err = slotRequest(cfg, "2026-02-08", "", 24)
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	day := time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)
	w1 := booking.Court{Name: "Wood 1", Rank: 1}
	w2 := booking.Court{Name: "Wood 2", Rank: 2}
	scan := booking.NewScan(day, []booking.SlotObservation{
		{Court: w1, Slot: booking.NewTimeSlot(day, 19, 20), Availability: booking.AvailabilityBooked},
		{Court: w2, Slot: booking.NewTimeSlot(day, 19, 20), Availability: booking.AvailabilityAvailable},
	})
	empty := booking.NewScan(day.AddDate(0, 0, 1), nil)

	var buf bytes.Buffer
	printResult(&buf, booking.RunResult{Mode: booking.ModeCheck, Scans: []booking.Scan{scan, empty}})
	assert.Equal(t, "Sun 2026-02-08  Wood 2 7:00 PM\nMon 2026-02-09  nothing available\n", buf.String())

	buf.Reset()
	booked := booking.BookingAttempt{Court: w2, Slot: booking.NewTimeSlot(day, 19, 20), Outcome: booking.OutcomeSuccess}
	printResult(&buf, booking.RunResult{Mode: booking.ModeBook, Booked: &booked})
	assert.Equal(t, "booked Wood 2 on 2026-02-08 at 7:00 PM\n", buf.String())

	buf.Reset()
	printResult(&buf, booking.RunResult{Mode: booking.ModeBook, Attempts: []booking.BookingAttempt{{}, {}}})
	assert.Equal(t, "no booking made (2 attempts)\n", buf.String())
}
