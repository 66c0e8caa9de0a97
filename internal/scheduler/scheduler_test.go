package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/executor"
	"github.com/example/court-sniper/internal/history"
	"github.com/example/court-sniper/internal/jobs"
	"github.com/example/court-sniper/internal/locator"
	"github.com/example/court-sniper/internal/notify"
	"github.com/example/court-sniper/internal/surface/surfacetest"
)

var pht = time.FixedZone("PHT", 8*3600)

var courtNames = []string{"Wood 1", "Wood 2", "Wood 3"}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func planner() Planner {
	return Planner{Location: pht, Lead: 500 * time.Millisecond, DaysAhead: 4, WindowDays: 1}
}

func TestPlan(t *testing.T) {
	p := planner()

	plan := p.Plan(time.Date(2026, 2, 3, 22, 0, 0, 0, pht))
	assert.Equal(t, time.Date(2026, 2, 4, 0, 0, 0, 0, pht), plan.ReleaseAt)
	assert.Equal(t, time.Date(2026, 2, 3, 23, 59, 59, 500_000_000, pht), plan.FireAt)
	assert.Equal(t, time.Date(2026, 2, 8, 0, 0, 0, 0, pht), plan.WindowStart)
	assert.Equal(t, plan.WindowStart, plan.WindowEnd)

	at := time.Date(2026, 2, 4, 0, 0, 0, 0, pht)
	assert.Equal(t, at, p.Plan(at).ReleaseAt, "a release exactly now is still the next one")
	assert.Equal(t, at.AddDate(0, 0, 1), p.Plan(at.Add(time.Millisecond)).ReleaseAt)

	p.ReleaseOffset = 7*time.Hour + 30*time.Minute
	p.WindowDays = 3
	plan = p.Plan(time.Date(2026, 2, 3, 22, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 2, 4, 7, 30, 0, 0, pht), plan.ReleaseAt, "now is converted to the booking location")
	assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, pht), plan.WindowEnd)
	assert.Len(t, Days(plan.WindowStart, plan.WindowEnd), 3)

	past := p.For(time.Date(2026, 2, 4, 7, 30, 0, 0, pht))
	assert.Equal(t, plan, past, "a release plans the same before and after it passes")
}

func TestWaitUntil(t *testing.T) {
	c := &fakeClock{now: time.Date(2026, 2, 3, 23, 50, 0, 0, pht)}
	target := time.Date(2026, 2, 3, 23, 59, 59, 500_000_000, pht)
	require.NoError(t, WaitUntil(context.Background(), c, target, quiet()))
	assert.False(t, c.Now().Before(target))
	assert.Less(t, c.Now().Sub(target), 20*time.Millisecond, "fine polling near the target")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c2 := &fakeClock{now: target.Add(-time.Hour)}
	err := WaitUntil(ctx, c2, target, quiet())
	assert.ErrorIs(t, err, context.Canceled)
}

func navigator() *Navigator {
	return &Navigator{
		DayViewLabel: surfacetest.LabelDay,
		NextLabel:    surfacetest.LabelNext,
		Retries:      2,
		StepTimeout:  time.Millisecond,
		Poll:         time.Millisecond,
		Log:          quiet(),
	}
}

func TestNavigatorGoTo(t *testing.T) {
	today := time.Date(2026, 2, 3, 0, 0, 0, 0, pht)
	target := today.AddDate(0, 0, 4)

	t.Run("advances one day per click", func(t *testing.T) {
		f := surfacetest.New(today, nil)
		shown, err := navigator().GoTo(context.Background(), f, today, target)
		require.NoError(t, err)
		assert.Equal(t, target, shown)
		assert.Equal(t, 4, f.ButtonPresses(surfacetest.LabelNext))
	})

	t.Run("page one day behind", func(t *testing.T) {
		f := surfacetest.New(today.AddDate(0, 0, -1), nil)
		_, err := navigator().GoTo(context.Background(), f, today, target)
		require.NoError(t, err)
		assert.Equal(t, 5, f.ButtonPresses(surfacetest.LabelNext))
	})

	t.Run("retries a stuck click", func(t *testing.T) {
		f := surfacetest.New(today, nil)
		f.StuckClicks = 2
		shown, err := navigator().GoTo(context.Background(), f, today, target)
		require.NoError(t, err)
		assert.Equal(t, target, shown)
		assert.Equal(t, 6, f.ButtonPresses(surfacetest.LabelNext))
	})

	t.Run("gives up after retries", func(t *testing.T) {
		f := surfacetest.New(today, nil)
		f.StuckClicks = 3
		_, err := navigator().GoTo(context.Background(), f, today, target)
		var de *booking.DetectionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "navigate", de.Step)
	})

	t.Run("skipped day is never scanned", func(t *testing.T) {
		f := surfacetest.New(today, nil)
		f.SkipOnClick = 2
		shown, err := navigator().GoTo(context.Background(), f, today, target)
		assert.True(t, booking.IsDetection(err))
		assert.Equal(t, today.AddDate(0, 0, 1), shown)
	})

	t.Run("unexpected starting day", func(t *testing.T) {
		f := surfacetest.New(today.AddDate(0, 0, 3), nil)
		_, err := navigator().GoTo(context.Background(), f, today, target)
		assert.True(t, booking.IsDetection(err))
		assert.Zero(t, f.ButtonPresses(surfacetest.LabelNext))
	})

	t.Run("target behind the page", func(t *testing.T) {
		f := surfacetest.New(today.AddDate(0, 0, 1), nil)
		_, err := navigator().GoTo(context.Background(), f, today, today)
		assert.True(t, booking.IsDetection(err))
	})
}

func TestDateShown(t *testing.T) {
	d := time.Date(2026, 2, 2, 0, 0, 0, 0, pht)
	assert.True(t, dateShown("Monday, February 2, 2026", d))
	assert.True(t, dateShown("MONDAY FEBRUARY 02", d))
	assert.True(t, dateShown("Mon Feb 2", d))
	assert.False(t, dateShown("Sunday, February 22, 2026", d))
}

type staticSessions struct {
	err error
}

func (s staticSessions) Acquire() (booking.SessionState, error) {
	if s.err != nil {
		return booking.SessionState{}, s.err
	}
	return booking.SessionState{Blob: []byte(`{"cookies":[]}`)}, nil
}

type memHistory struct {
	history.Nop
	mu   sync.Mutex
	runs []history.RunRecord
}

func (m *memHistory) Save(_ context.Context, r history.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) Send(m notify.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return true
}

type rig struct {
	engine  *Engine
	fake    *surfacetest.Fake
	factory *surfacetest.Factory
	clock   *fakeClock
	hist    *memHistory
	out     *outbox
	today   time.Time
}

func newRig(t *testing.T, now time.Time) *rig {
	t.Helper()
	today := booking.DateOf(now.In(pht))
	f := surfacetest.New(today, surfacetest.NewGrid(courtNames, 17, 23))
	f.Grids = map[string]*surfacetest.Grid{}
	for i := 0; i <= 6; i++ {
		f.Grids[booking.FormatDate(today.AddDate(0, 0, i))] = surfacetest.NewGrid(courtNames, 17, 23)
	}
	r := &rig{
		fake:    f,
		factory: &surfacetest.Factory{Fake: f},
		clock:   &fakeClock{now: now},
		hist:    &memHistory{},
		out:     &outbox{},
		today:   today,
	}
	r.engine = &Engine{
		BookingURL:  "https://courts.example.test/booking",
		Courts:      booking.Courts(courtNames),
		TargetStart: 19,
		TargetEnd:   21,
		ScanHours:   []int{17, 18, 19, 20, 21, 22},
		Planner:     planner(),
		Clock:       r.clock,
		Sessions:    staticSessions{},
		Surfaces:    r.factory,
		Locator:     locator.New(locator.Options{}, quiet()),
		Executor:    executor.New(executor.Options{}, quiet()),
		Navigator:   navigator(),
		History:     r.hist,
		Notifier:    r.out,
		Formatter:   notify.Formatter{TargetHour: 19, Location: pht},
		Log:         quiet(),
	}
	return r
}

func (r *rig) grid(offset int) *surfacetest.Grid {
	return r.fake.Grids[booking.FormatDate(r.today.AddDate(0, 0, offset))]
}

func TestCheckScansWholeWindowWithoutBooking(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.grid(2).Set("Wood 3", 19, booking.AvailabilityAvailable)
	r.grid(4).Set("Wood 1", 17, booking.AvailabilityAvailable)

	res, err := r.engine.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Scans, 5, "today through today+4")
	assert.Nil(t, res.Booked)
	assert.Zero(t, r.fake.ButtonPresses(surfacetest.LabelBook))
	assert.Empty(t, r.fake.Confirmed)

	o, ok := res.Scans[2].Lookup("Wood 3", 19)
	require.True(t, ok)
	assert.Equal(t, booking.AvailabilityAvailable, o.Availability)
	assert.True(t, res.Scans[4].AnyAvailable())
	assert.False(t, res.Scans[0].AnyAvailable())

	require.Len(t, r.out.msgs, 1)
	assert.Contains(t, r.out.msgs[0].Text, "Court Availability")
	require.Len(t, r.hist.runs, 1)
	assert.Equal(t, history.StatusChecked, r.hist.runs[0].Status)
	assert.Equal(t, []string{"https://courts.example.test/booking"}, r.fake.Opened)
}

func TestCheckIsDeterministic(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.grid(1).Set("Wood 2", 20, booking.AvailabilityAvailable)
	first, err := r.engine.Check(context.Background())
	require.NoError(t, err)

	r.fake.Date = r.today
	second, err := r.engine.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Scans, len(first.Scans))
	for i := range first.Scans {
		assert.Equal(t, first.Scans[i].Observations, second.Scans[i].Observations)
	}
}

func TestBookFallsBackToSecondCourt(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.grid(4).Set("Wood 2", 19, booking.AvailabilityAvailable)
	r.grid(4).Set("Wood 3", 19, booking.AvailabilityAvailable)

	res, err := r.engine.Book(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, res.Booked)
	assert.Equal(t, "Wood 2", res.Booked.Court.Name)
	assert.Equal(t, []string{"2026-02-07 Wood 2@19"}, r.fake.Confirmed)
	require.Len(t, res.Attempts, 1, "the booked first-ranked court is a detection fact, not an attempt")
	assert.Equal(t, booking.OutcomeSuccess, res.Attempts[0].Outcome)
	assert.Contains(t, r.out.msgs[0].Text, "Booked Wood 2")
	assert.Equal(t, history.StatusBooked, r.hist.runs[0].Status)
}

func TestBookNothingAvailable(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.grid(4).Set("Wood 1", 17, booking.AvailabilityAvailable)

	res, err := r.engine.Book(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, res.Booked)
	assert.Empty(t, res.Attempts)
	assert.Zero(t, r.fake.ButtonPresses(surfacetest.LabelBook))
	assert.Contains(t, r.out.msgs[0].Text, "No booking made")
}

func TestBookWaitsForRelease(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 23, 58, 0, 0, pht))
	// Release on Feb 4 opens Feb 8.
	r.grid(5).Set("Wood 1", 19, booking.AvailabilityAvailable)

	res, err := r.engine.Book(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, res.Booked)
	assert.Equal(t, []string{"2026-02-08 Wood 1@19"}, r.fake.Confirmed)
	assert.False(t, r.clock.Now().Before(time.Date(2026, 2, 3, 23, 59, 59, 500_000_000, pht)))
	assert.Len(t, r.fake.Opened, 2, "page reloaded after the wait")
}

func TestLateReleaseJobBooksTheWindowItWasQueuedFor(t *testing.T) {
	// The worker picks the job up a minute after the release it was queued for.
	start := time.Date(2026, 2, 4, 0, 1, 0, 0, pht)
	r := newRig(t, start)
	r.grid(4).Set("Wood 1", 19, booking.AvailabilityAvailable)

	err := r.engine.HandleJob(context.Background(), jobs.Job{
		Kind:           jobs.KindBook,
		WaitForRelease: true,
		ReleaseAt:      time.Date(2026, 2, 4, 0, 0, 0, 0, pht),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-08 Wood 1@19"}, r.fake.Confirmed)
	assert.Less(t, r.clock.Now().Sub(start), time.Second, "no wait for a later release")
	assert.Len(t, r.fake.Opened, 1, "page loaded after the release is not reloaded")
}

func TestReleaseJobWaitsForItsOwnRelease(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 23, 58, 0, 0, pht))
	r.grid(5).Set("Wood 2", 19, booking.AvailabilityAvailable)

	release := time.Date(2026, 2, 4, 0, 0, 0, 0, pht)
	err := r.engine.HandleJob(context.Background(), jobs.Job{Kind: jobs.KindBook, WaitForRelease: true, ReleaseAt: release})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-08 Wood 2@19"}, r.fake.Confirmed)
	assert.False(t, r.clock.Now().Before(release.Add(-500*time.Millisecond)))
	assert.Less(t, r.clock.Now().Sub(release), time.Minute)
}

func TestBookScansOnlyTheStartRow(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.grid(4).Set("Wood 3", 19, booking.AvailabilityAvailable)

	res, err := r.engine.Book(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, res.Booked)
	require.Len(t, res.Scans, 1)
	for _, o := range res.Scans[0].Observations {
		assert.Equal(t, 19, o.Slot.StartHour, o.Court.Name)
	}
	assert.Len(t, res.Scans[0].Observations, len(courtNames))
	assert.Len(t, r.fake.Clicks, len(courtNames)+1, "one cell click per court plus the booking click")
}

func TestAuthFailuresAbortBeforeInteraction(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.fake.LoggedOut = true
	_, err := r.engine.Book(context.Background(), false)
	assert.ErrorIs(t, err, booking.ErrAuthRequired)
	assert.Zero(t, r.fake.Interactions())
	assert.Contains(t, r.out.msgs[0].Text, "Login required")

	r2 := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r2.engine.Sessions = staticSessions{err: booking.ErrAuthRequired}
	_, err = r2.engine.Check(context.Background())
	assert.ErrorIs(t, err, booking.ErrAuthRequired)
	assert.Empty(t, r2.factory.States, "no browser without a session")
}

func TestDetectionFailureIsReported(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.fake.StuckClicks = 10

	res, err := r.engine.Book(context.Background(), false)
	require.True(t, booking.IsDetection(err))
	assert.Empty(t, res.Attempts)
	assert.Contains(t, r.fake.Snapshots, "failure-navigate")
	assert.Equal(t, history.StatusFailed, r.hist.runs[0].Status)
}

func TestBookSlot(t *testing.T) {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, pht)

	r := newRig(t, now)
	r.grid(2).Set("Wood 3", 18, booking.AvailabilityAvailable)
	res, err := r.engine.BookSlot(context.Background(), booking.BookRequest{Date: r.today.AddDate(0, 0, 2), Court: "Wood 3", Hour: 18})
	require.NoError(t, err)
	require.NotNil(t, res.Booked)
	assert.Equal(t, []string{"2026-02-05 Wood 3@18"}, r.fake.Confirmed)

	for name, day := range map[string]time.Time{
		"past":   r.today.AddDate(0, 0, -1),
		"beyond": r.today.AddDate(0, 0, 5),
	} {
		t.Run(name, func(t *testing.T) {
			r := newRig(t, now)
			_, err := r.engine.BookSlot(context.Background(), booking.BookRequest{Date: day, Court: "Wood 1", Hour: 19})
			assert.ErrorIs(t, err, ErrOutsideWindow)
			assert.Zero(t, r.fake.Interactions())
		})
	}
}

func TestHandleJobRepliesToResponseURL(t *testing.T) {
	r := newRig(t, time.Date(2026, 2, 3, 10, 0, 0, 0, pht))
	r.grid(1).Set("Wood 1", 20, booking.AvailabilityAvailable)
	req := booking.BookRequest{Date: r.today.AddDate(0, 0, 1), Court: "Wood 1", Hour: 20}

	err := r.engine.HandleJob(context.Background(), jobs.Job{Kind: jobs.KindDirect, Request: &req, ResponseURL: "https://hooks.example.test/r"})
	require.NoError(t, err)
	require.Len(t, r.out.msgs, 1)
	assert.Equal(t, "https://hooks.example.test/r", r.out.msgs[0].ResponseURL)
	assert.Equal(t, booking.ModeDirect, r.hist.runs[0].Mode)
}

type jobLog struct {
	clock  Clock
	cancel context.CancelFunc
	at     []time.Time
	jobs   []jobs.Job
}

func (l *jobLog) Enqueue(j jobs.Job) (jobs.Job, error) {
	l.at = append(l.at, l.clock.Now())
	l.jobs = append(l.jobs, j)
	if len(l.at) == 2 {
		l.cancel()
	}
	return j, nil
}

func TestDailyQueuesBeforeEachRelease(t *testing.T) {
	c := &fakeClock{now: time.Date(2026, 2, 3, 12, 0, 0, 0, pht)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &jobLog{clock: c, cancel: cancel}

	d := &Daily{Planner: planner(), Clock: c, Jobs: l, Warmup: 2 * time.Minute, Log: quiet()}
	err := d.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))

	require.Len(t, l.at, 2)
	first := time.Date(2026, 2, 3, 23, 57, 59, 500_000_000, pht)
	assert.False(t, l.at[0].Before(first))
	assert.Less(t, l.at[0].Sub(first), time.Second)
	assert.Less(t, l.at[1].Sub(first.AddDate(0, 0, 1)), time.Second)
	assert.True(t, l.jobs[0].WaitForRelease)
	assert.Equal(t, time.Date(2026, 2, 4, 0, 0, 0, 0, pht), l.jobs[0].ReleaseAt)
	assert.Equal(t, time.Date(2026, 2, 5, 0, 0, 0, 0, pht), l.jobs[1].ReleaseAt)
	assert.Equal(t, jobs.KindBook, l.jobs[0].Kind)
}
