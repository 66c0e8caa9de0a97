package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/surface"
)

const pollInterval = 100 * time.Millisecond

// Page is one browser tab implementing surface.Surface.
type Page struct {
	page *rod.Page
	opts Options
	log  *slog.Logger
}

var _ surface.Surface = (*Page)(nil)

func (p *Page) Close() error { return p.page.Close() }

func (p *Page) settle(ctx context.Context) {
	if p.opts.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(p.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Page) Open(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.opts.NavTimeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	p.settle(ctx)
	return nil
}

func (p *Page) eval(ctx context.Context, js string, args ...interface{}) (string, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *Page) PageText(ctx context.Context) (string, error) {
	return p.eval(ctx, `() => document.body ? document.body.innerText : ""`)
}

// textBoxesJS reports every visible text node with at most 60 characters
// together with the rect of the element holding it.
const textBoxesJS = `() => {
	const out = [];
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
	let node;
	while ((node = walker.nextNode())) {
		const text = node.textContent.trim();
		if (!text || text.length > 60) continue;
		const el = node.parentElement;
		if (!el) continue;
		const style = getComputedStyle(el);
		if (style.visibility === "hidden" || style.display === "none" || Number(style.opacity) === 0) continue;
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) continue;
		out.push({text: text, x: r.left, y: r.top, w: r.width, h: r.height});
	}
	return JSON.stringify(out);
}`

func (p *Page) TextBoxes(ctx context.Context) ([]surface.TextBox, error) {
	raw, err := p.eval(ctx, textBoxesJS)
	if err != nil {
		return nil, fmt.Errorf("collect text boxes: %w", err)
	}
	var rows []struct {
		Text string  `json:"text"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
		W    float64 `json:"w"`
		H    float64 `json:"h"`
	}
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("decode text boxes: %w", err)
	}
	out := make([]surface.TextBox, 0, len(rows))
	for _, r := range rows {
		out = append(out, surface.TextBox{Text: r.Text, X: r.X, Y: r.Y, Width: r.W, Height: r.H})
	}
	return out, nil
}

// leftClick is the input sequence of one left click at pt.
func leftClick(pt booking.Point) []proto.InputDispatchMouseEvent {
	ev := func(t proto.InputDispatchMouseEventType, clicks int) proto.InputDispatchMouseEvent {
		e := proto.InputDispatchMouseEvent{Type: t, X: pt.X, Y: pt.Y, ClickCount: clicks}
		if t != proto.InputDispatchMouseEventTypeMouseMoved {
			e.Button = proto.InputMouseButtonLeft
		}
		return e
	}
	return []proto.InputDispatchMouseEvent{
		ev(proto.InputDispatchMouseEventTypeMouseMoved, 0),
		ev(proto.InputDispatchMouseEventTypeMousePressed, 1),
		ev(proto.InputDispatchMouseEventTypeMouseReleased, 1),
	}
}

// escapeKey is the input sequence of one Escape key press.
func escapeKey() []proto.InputDispatchKeyEvent {
	ev := func(t proto.InputDispatchKeyEventType) proto.InputDispatchKeyEvent {
		return proto.InputDispatchKeyEvent{Type: t, Key: "Escape", Code: "Escape", WindowsVirtualKeyCode: 27}
	}
	return []proto.InputDispatchKeyEvent{
		ev(proto.InputDispatchKeyEventTypeKeyDown),
		ev(proto.InputDispatchKeyEventTypeKeyUp),
	}
}

// ClickAt left-clicks pt on the page bound to ctx.
func (p *Page) ClickAt(ctx context.Context, pt booking.Point) error {
	rp := p.page.Context(ctx)
	for _, ev := range leftClick(pt) {
		if err := ev.Call(rp); err != nil {
			return fmt.Errorf("click (%.0f,%.0f): %w", pt.X, pt.Y, err)
		}
	}
	return nil
}

// findButtonJS returns the center of the first visible clickable element
// whose trimmed text is exactly label, or "" when none is visible.
const findButtonJS = `(label) => {
	const els = document.querySelectorAll('button, [role="button"], a, input[type="submit"], div, span');
	for (const el of els) {
		const text = (el.innerText || el.value || "").trim();
		if (text !== label) continue;
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) continue;
		const style = getComputedStyle(el);
		if (style.visibility === "hidden" || style.display === "none") continue;
		if (el.disabled) continue;
		return JSON.stringify({x: r.left + r.width / 2, y: r.top + r.height / 2});
	}
	return "";
}`

func (p *Page) findButton(ctx context.Context, label string) (booking.Point, bool, error) {
	raw, err := p.eval(ctx, findButtonJS, label)
	if err != nil || raw == "" {
		return booking.Point{}, false, err
	}
	var pt booking.Point
	var xy struct{ X, Y float64 }
	if err := json.Unmarshal([]byte(raw), &xy); err != nil {
		return pt, false, fmt.Errorf("decode button rect: %w", err)
	}
	pt.X, pt.Y = xy.X, xy.Y
	return pt, true, nil
}

// poll calls check until it reports done, the timeout expires or ctx ends.
func poll(ctx context.Context, timeout time.Duration, check func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		done, err := check()
		if err != nil || done {
			return done, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Page) WaitButton(ctx context.Context, label string, timeout time.Duration) (bool, error) {
	return poll(ctx, timeout, func() (bool, error) {
		_, ok, err := p.findButton(ctx, label)
		return ok, err
	})
}

func (p *Page) ClickButton(ctx context.Context, label string, timeout time.Duration) error {
	var at booking.Point
	ok, err := poll(ctx, timeout, func() (bool, error) {
		pt, ok, err := p.findButton(ctx, label)
		at = pt
		return ok, err
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("button %q: %w", label, surface.ErrNotVisible)
	}
	return p.ClickAt(ctx, at)
}

func (p *Page) WaitGone(ctx context.Context, label string, timeout time.Duration) (bool, error) {
	return poll(ctx, timeout, func() (bool, error) {
		_, ok, err := p.findButton(ctx, label)
		return !ok, err
	})
}

func (p *Page) Dismiss(ctx context.Context) error {
	rp := p.page.Context(ctx)
	for _, ev := range escapeKey() {
		if err := ev.Call(rp); err != nil {
			return fmt.Errorf("press escape: %w", err)
		}
	}
	p.settle(ctx)
	return nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func (p *Page) Snapshot(ctx context.Context, name string) error {
	if p.opts.DiagnosticsDir == "" {
		return nil
	}
	png, err := p.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		p.log.Warn("screenshot failed", "name", name, "err", err)
		return err
	}
	if err := os.MkdirAll(p.opts.DiagnosticsDir, 0o755); err != nil {
		return err
	}
	file := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102-150405.000"), strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_"))
	path := filepath.Join(p.opts.DiagnosticsDir, file)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return err
	}
	p.log.Debug("screenshot saved", "path", path)
	return nil
}
