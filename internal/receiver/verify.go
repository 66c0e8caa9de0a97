package receiver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	headerTimestamp = "X-Slack-Request-Timestamp"
	headerSignature = "X-Slack-Signature"
	signatureScheme = "v0"
)

var (
	ErrBadSignature = errors.New("request signature mismatch")
	ErrStale        = errors.New("request timestamp outside replay window")
	ErrReplay       = errors.New("request already seen")
)

// Verifier authenticates callbacks signed with a shared secret.
type Verifier struct {
	Secret []byte
	Window time.Duration
	Nonces NonceStore
	Now    func() time.Time
}

// Sign returns the signature header value for body sent at ts.
func Sign(secret []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s:%d:", signatureScheme, ts)
	mac.Write(body)
	return signatureScheme + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature first, then freshness, then uniqueness.
func (v *Verifier) Verify(ctx context.Context, h http.Header, body []byte) error {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	raw := h.Get(headerTimestamp)
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrBadSignature, raw)
	}
	got := h.Get(headerSignature)
	want := Sign(v.Secret, ts, body)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrBadSignature
	}
	skew := now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.Window {
		return fmt.Errorf("%w: skew %s", ErrStale, skew.Round(time.Second))
	}
	if v.Nonces == nil {
		return nil
	}
	// Entries outlive the widest timestamp that could still pass the
	// freshness check.
	fresh, err := v.Nonces.Claim(ctx, got, 2*v.Window)
	if err != nil {
		return fmt.Errorf("nonce store: %w", err)
	}
	if !fresh {
		return ErrReplay
	}
	return nil
}
