package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/example/court-sniper/internal/domain/booking"
)

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) complete() bool { return c.Email != "" && c.Password != "" }

// LoginFlow describes the vendor's login affordances.
type LoginFlow struct {
	URL              string
	LoginLabel       string
	LoginPageLabel   string
	LoggedOutMarkers []string
	EmailSelectors   []string
	PasswordSelector []string
	SubmitSelectors  []string
	// Wait is how long each manual-login round polls before giving up.
	Wait   time.Duration
	Rounds int
}

func (f LoginFlow) withDefaults() LoginFlow {
	if f.LoginLabel == "" {
		f.LoginLabel = "LOG IN"
	}
	if f.LoginPageLabel == "" {
		f.LoginPageLabel = "Go to the login page"
	}
	if len(f.LoggedOutMarkers) == 0 {
		f.LoggedOutMarkers = []string{"VISITOR MODE", "LOG IN"}
	}
	if len(f.EmailSelectors) == 0 {
		f.EmailSelectors = []string{`input[type="email"]`, `input[name="email"]`, `input[name="username"]`, `#email`}
	}
	if len(f.PasswordSelector) == 0 {
		f.PasswordSelector = []string{`input[type="password"]`, `input[name="password"]`, `#password`}
	}
	if len(f.SubmitSelectors) == 0 {
		f.SubmitSelectors = []string{`button[type="submit"]`, `input[type="submit"]`}
	}
	if f.Wait <= 0 {
		f.Wait = 3 * time.Minute
	}
	if f.Rounds <= 0 {
		f.Rounds = 2
	}
	return f
}

var ErrLoginTimeout = errors.New("login was not completed in time")

// CaptureLogin drives the interactive login and returns the resulting
// session state. Credentials are filled in when given; otherwise the operator
// completes the login in the visible window while prompts go to out.
func CaptureLogin(ctx context.Context, opts Options, flow LoginFlow, creds Credentials, out io.Writer, log *slog.Logger) (booking.SessionState, error) {
	flow = flow.withDefaults()
	if !creds.complete() {
		opts.Headless = false
	}
	b, err := Launch(ctx, opts, log)
	if err != nil {
		return booking.SessionState{}, err
	}
	defer b.Close()

	p, err := b.NewSurface(ctx, booking.SessionState{})
	if err != nil {
		return booking.SessionState{}, err
	}
	if err := p.Open(ctx, flow.URL); err != nil {
		return booking.SessionState{}, err
	}

	if lo, err := p.loggedOut(ctx, flow.LoggedOutMarkers); err != nil {
		return booking.SessionState{}, err
	} else if !lo {
		b.log.Info("already logged in")
		return b.CaptureState(ctx, p)
	}

	step := 10 * time.Second
	if err := p.ClickButton(ctx, flow.LoginLabel, step); err != nil {
		b.log.Warn("login button not found", "label", flow.LoginLabel, "err", err)
	}
	if ok, _ := p.WaitButton(ctx, flow.LoginPageLabel, 3*time.Second); ok {
		if err := p.ClickButton(ctx, flow.LoginPageLabel, step); err != nil {
			b.log.Warn("login page link failed", "err", err)
		}
		_ = p.page.Context(ctx).Timeout(opts.withDefaults().NavTimeout).WaitLoad()
	}
	_ = p.Snapshot(ctx, "login-page")

	if creds.complete() {
		if err := p.fillCredentials(ctx, flow, creds); err != nil {
			b.log.Warn("credential auto-fill failed, falling back to manual login", "err", err)
		}
	}

	for round := 1; round <= flow.Rounds; round++ {
		fmt.Fprintf(out, "Complete the login in the browser window (waiting up to %s, attempt %d/%d)...\n", flow.Wait, round, flow.Rounds)
		ok, err := poll(ctx, flow.Wait, func() (bool, error) {
			lo, err := p.loggedOut(ctx, flow.LoggedOutMarkers)
			return !lo, err
		})
		if err != nil {
			return booking.SessionState{}, err
		}
		if ok {
			if err := p.Open(ctx, flow.URL); err != nil {
				return booking.SessionState{}, err
			}
			fmt.Fprintln(out, "Login detected, saving session.")
			return b.CaptureState(ctx, p)
		}
	}
	_ = p.Snapshot(ctx, "login-timeout")
	return booking.SessionState{}, ErrLoginTimeout
}

func (p *Page) loggedOut(ctx context.Context, markers []string) (bool, error) {
	text, err := p.PageText(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return true, nil
		}
	}
	return false, nil
}

func (p *Page) fillCredentials(ctx context.Context, flow LoginFlow, creds Credentials) error {
	if err := p.inputFirst(ctx, flow.EmailSelectors, creds.Email); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if err := p.inputFirst(ctx, flow.PasswordSelector, creds.Password); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	for _, sel := range flow.SubmitSelectors {
		el, err := p.page.Context(ctx).Timeout(2 * time.Second).Element(sel)
		if err != nil {
			continue
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	}
	return fmt.Errorf("no submit button")
}

func (p *Page) inputFirst(ctx context.Context, selectors []string, value string) error {
	for _, sel := range selectors {
		el, err := p.page.Context(ctx).Timeout(2 * time.Second).Element(sel)
		if err != nil {
			continue
		}
		if vis, err := el.Visible(); err != nil || !vis {
			continue
		}
		return el.Input(value)
	}
	return fmt.Errorf("no field matched %v", selectors)
}
