package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/example/court-sniper/internal/actions"
	"github.com/example/court-sniper/internal/browser"
	"github.com/example/court-sniper/internal/config"
	"github.com/example/court-sniper/internal/crypto"
	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/executor"
	"github.com/example/court-sniper/internal/history"
	"github.com/example/court-sniper/internal/locator"
	"github.com/example/court-sniper/internal/logging"
	"github.com/example/court-sniper/internal/notify"
	"github.com/example/court-sniper/internal/scheduler"
	"github.com/example/court-sniper/internal/session"
)

// loadConfig reads and validates configuration and builds the logger.
// Nothing else is touched when it fails.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}

func browserOptions(cfg config.Config) browser.Options {
	return browser.Options{
		Headless:       cfg.Headless,
		Bin:            cfg.BrowserBin,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		SettleDelay:    cfg.SettleDelay,
		DiagnosticsDir: cfg.DiagnosticsDir,
	}
}

func openSessions(cfg config.Config) (*session.FileStore, error) {
	var aead *crypto.AEAD
	if len(cfg.SessionEncKey) > 0 {
		var err error
		if aead, err = crypto.New(cfg.SessionEncKey, session.Purpose); err != nil {
			return nil, fmt.Errorf("session key: %w", err)
		}
	}
	return session.NewFileStore(cfg.SessionFile, aead), nil
}

// app holds everything a run needs. close releases it in reverse order.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	engine   *scheduler.Engine
	notifier *notify.Notifier
	codec    *actions.Codec
	history  history.Recorder
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	sessions, err := openSessions(cfg)
	if err != nil {
		return nil, err
	}
	rec, err := history.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, history: rec}
	a.notifier = notify.New(notify.Options{
		WebhookURL: cfg.SlackWebhookURL,
		QueueSize:  cfg.NotifyQueueSize,
	}, log.With("component", "notify"))

	formatter := notify.Formatter{TargetHour: cfg.TargetStartHour, Location: cfg.Location}
	if cfg.HasActionKeys() {
		a.codec = actions.NewCodec(cfg.ActionHashKey, cfg.ActionBlockKey, cfg.ActionTTL, cfg.Location)
		formatter.Tokens = a.codec
	} else {
		log.Debug("action keys not set, messages carry no booking buttons")
	}

	planner := scheduler.Planner{
		Location:      cfg.Location,
		ReleaseOffset: cfg.ReleaseOffset,
		Lead:          cfg.ReleaseLead,
		DaysAhead:     cfg.DaysAheadLimit,
		WindowDays:    cfg.WindowDays,
	}
	a.engine = &scheduler.Engine{
		BookingURL:  cfg.BookingURL,
		Courts:      booking.Courts(cfg.Courts),
		TargetStart: cfg.TargetStartHour,
		TargetEnd:   cfg.TargetEndHour,
		ScanHours:   cfg.ScanHours(),
		Planner:     planner,
		Sessions:    sessions,
		Surfaces:    browser.Factory{Options: browserOptions(cfg), Log: log.With("component", "browser")},
		Locator: locator.New(locator.Options{
			BookLabel:        cfg.Labels.Book,
			BookedMarkers:    cfg.Labels.BookedMarkers,
			LoggedOutMarkers: cfg.Labels.LoggedOutMarkers,
			CellTimeout:      cfg.CellTimeout,
		}, log.With("component", "locator")),
		Executor: executor.New(executor.Options{
			BookLabel:    cfg.Labels.Book,
			ConfirmLabel: cfg.Labels.Confirm,
			ErrorMarkers: cfg.Labels.ErrorMarkers,
			StepTimeout:  cfg.StepTimeout,
		}, log.With("component", "executor")),
		Navigator: &scheduler.Navigator{
			DayViewLabel: cfg.Labels.DayView,
			NextLabel:    cfg.Labels.NextDay,
			Retries:      cfg.NavRetries,
			StepTimeout:  cfg.StepTimeout,
			Log:          log.With("component", "navigate"),
		},
		History:   rec,
		Notifier:  a.notifier,
		Formatter: formatter,
		Log:       log,
	}
	return a, nil
}

// close flushes pending notifications before the process exits.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.notifier.Close(ctx); err != nil {
		a.log.Warn("notifications not drained", "err", err)
	}
	if err := a.history.Close(); err != nil {
		a.log.Warn("close history", "err", err)
	}
}
