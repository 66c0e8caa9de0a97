// Package browser implements surface.Surface on a real Chromium driven over
// the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/surface"
)

type Options struct {
	Headless       bool
	Bin            string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
	// SettleDelay is slept after navigation and popup dismissal so the
	// grid's client-side rendering catches up.
	SettleDelay time.Duration
	// DiagnosticsDir receives step screenshots; empty disables them.
	DiagnosticsDir string
}

func (o Options) withDefaults() Options {
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1400
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 900
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = 30 * time.Second
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	return o
}

// Browser owns one Chromium process. Only one page is driven at a time.
type Browser struct {
	opts     Options
	log      *slog.Logger
	launcher *launcher.Launcher
	rod      *rod.Browser
}

func Launch(ctx context.Context, opts Options, log *slog.Logger) (*Browser, error) {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	l := launcher.New().Headless(opts.Headless)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	rb := rod.New().ControlURL(controlURL).Context(ctx)
	if err := rb.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	log.Debug("browser launched", "headless", opts.Headless, "control_url", controlURL)
	return &Browser{opts: opts, log: log, launcher: l, rod: rb}, nil
}

func (b *Browser) Close() error {
	err := b.rod.Close()
	b.launcher.Cleanup()
	return err
}

// NewSurface opens a page primed with state. An empty state yields a
// logged-out page.
func (b *Browser) NewSurface(ctx context.Context, state booking.SessionState) (*Page, error) {
	rp, err := b.rod.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.ViewportWidth,
		Height:            b.opts.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.log.Warn("set viewport failed", "err", err)
	}
	p := &Page{page: rp, opts: b.opts, log: b.log}
	if len(state.Blob) > 0 {
		st, err := ParseStorageState(state.Blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", booking.ErrAuthRequired, err)
		}
		if err := p.restore(ctx, st); err != nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}
	}
	return p, nil
}

// CaptureState snapshots the page's cookies and its origin's localStorage.
func (b *Browser) CaptureState(ctx context.Context, p *Page) (booking.SessionState, error) {
	st, err := p.capture(ctx)
	if err != nil {
		return booking.SessionState{}, err
	}
	blob, err := st.Marshal()
	if err != nil {
		return booking.SessionState{}, err
	}
	return booking.SessionState{Blob: blob, CapturedAt: time.Now()}, nil
}

// Factory launches a dedicated Chromium per session so that each run starts
// from exactly the stored state.
type Factory struct {
	Options Options
	Log     *slog.Logger
}

func (f Factory) Open(ctx context.Context, state booking.SessionState) (surface.Session, error) {
	b, err := Launch(ctx, f.Options, f.Log)
	if err != nil {
		return nil, err
	}
	p, err := b.NewSurface(ctx, state)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return &ownedPage{Page: p, browser: b}, nil
}

type ownedPage struct {
	*Page
	browser *Browser
}

func (o *ownedPage) Close() error {
	_ = o.Page.Close()
	return o.browser.Close()
}
