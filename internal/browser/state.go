package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// StorageState is the persisted session blob: cookies plus per-origin
// localStorage.
type StorageState struct {
	Cookies []*proto.NetworkCookie `json:"cookies"`
	Origins []OriginStorage        `json:"origins"`
}

type OriginStorage struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"localStorage"`
}

func ParseStorageState(blob []byte) (StorageState, error) {
	var st StorageState
	if err := json.Unmarshal(blob, &st); err != nil {
		return StorageState{}, fmt.Errorf("parse storage state: %w", err)
	}
	return st, nil
}

func (s StorageState) Marshal() ([]byte, error) { return json.Marshal(s) }

// CookieParams converts captured cookies back into settable parameters.
func (s StorageState) CookieParams() []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c == nil || c.Name == "" {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
			Priority: c.Priority,
		})
	}
	return params
}

const snapshotStorageJS = `() => {
	try {
		const out = {};
		for (const key of Object.keys(localStorage)) {
			out[key] = localStorage.getItem(key);
		}
		return JSON.stringify({origin: location.origin, items: out});
	} catch (e) {
		return JSON.stringify({origin: location.origin, items: {}});
	}
}`

const restoreStorageJS = `(items) => {
	try {
		const l = JSON.parse(items || "{}");
		Object.entries(l).forEach(([k, v]) => localStorage.setItem(k, v));
	} catch (e) {}
}`

func (p *Page) capture(ctx context.Context) (StorageState, error) {
	pg := p.page.Context(ctx)
	res, err := proto.NetworkGetCookies{}.Call(pg)
	if err != nil {
		return StorageState{}, fmt.Errorf("get cookies: %w", err)
	}
	st := StorageState{Cookies: res.Cookies}

	out, err := pg.Evaluate(&rod.EvalOptions{JS: snapshotStorageJS, ByValue: true, AwaitPromise: true})
	if err != nil {
		return StorageState{}, fmt.Errorf("snapshot localStorage: %w", err)
	}
	var snap struct {
		Origin string            `json:"origin"`
		Items  map[string]string `json:"items"`
	}
	if err := json.Unmarshal([]byte(out.Value.Str()), &snap); err != nil {
		return StorageState{}, fmt.Errorf("decode localStorage: %w", err)
	}
	if snap.Origin != "" && snap.Origin != "null" {
		st.Origins = append(st.Origins, OriginStorage{Origin: snap.Origin, LocalStorage: snap.Items})
	}
	return st, nil
}

// restore sets cookies, then visits each origin to write its localStorage.
func (p *Page) restore(ctx context.Context, st StorageState) error {
	pg := p.page.Context(ctx)
	if params := st.CookieParams(); len(params) > 0 {
		if err := pg.SetCookies(params); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}
	for _, o := range st.Origins {
		if len(o.LocalStorage) == 0 {
			continue
		}
		if err := pg.Timeout(p.opts.NavTimeout).Navigate(o.Origin); err != nil {
			return fmt.Errorf("visit %s: %w", o.Origin, err)
		}
		items, err := json.Marshal(o.LocalStorage)
		if err != nil {
			return err
		}
		if _, err := pg.Evaluate(&rod.EvalOptions{
			JS:           restoreStorageJS,
			JSArgs:       []interface{}{string(items)},
			ByValue:      true,
			AwaitPromise: true,
		}); err != nil {
			return fmt.Errorf("restore localStorage for %s: %w", o.Origin, err)
		}
	}
	return nil
}
