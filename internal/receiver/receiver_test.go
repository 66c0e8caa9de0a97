package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/jobs"
	"github.com/example/court-sniper/internal/notify"
)

var secret = []byte("8f742231b10e8888abcd99yyyzzz85a5")

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubTokens struct{}

func (stubTokens) Decode(tok string) (booking.BookRequest, error) {
	if tok != "good" {
		return booking.BookRequest{}, errors.New("bad token")
	}
	return booking.BookRequest{Date: time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC), Court: "Wood 1", Hour: 19}, nil
}

type countingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *countingQueue) Enqueue(j jobs.Job) (jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return jobs.Job{}, q.err
	}
	q.jobs = append(q.jobs, j)
	return j, nil
}

func (q *countingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

var clock = time.Unix(1770000000, 0)

func newServer(q Enqueuer) *Server {
	return &Server{
		Verifier: &Verifier{Secret: secret, Window: 5 * time.Minute, Nonces: NewMemoryNonces(), Now: func() time.Time { return clock }},
		Tokens:   stubTokens{},
		Jobs:     q,
		RPS:      100,
		Burst:    100,
		Log:      quiet(),
	}
}

func actionBody(token string) string {
	p := map[string]any{
		"type":         "block_actions",
		"response_url": "https://hooks.example.test/resp/1",
		"user":         map[string]string{"id": "U1", "username": "pat"},
		"actions": []map[string]string{
			{"action_id": "other_button", "value": "x"},
			{"action_id": notify.ActionPrefix + "2026_02_08_Wood_1_19", "value": token},
		},
	}
	raw, _ := json.Marshal(p)
	return url.Values{"payload": {string(raw)}}.Encode()
}

func signed(path, body string, ts time.Time, sig string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set(headerTimestamp, strconv.FormatInt(ts.Unix(), 10))
	if sig == "" {
		sig = Sign(secret, ts.Unix(), []byte(body))
	}
	r.Header.Set(headerSignature, sig)
	return r
}

func TestValidCallbackEnqueuesDirectJob(t *testing.T) {
	q := &countingQueue{}
	h := newServer(q).Routes()
	body := actionBody("good")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signed("/slack/actions", body, clock, ""))
	require.Equal(t, http.StatusOK, w.Code)

	var msg notify.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "in_channel", msg.ResponseType)
	assert.Contains(t, msg.Text, "Wood 1 at 7:00 PM on 2026-02-08")

	require.Equal(t, 1, q.count())
	j := q.jobs[0]
	assert.Equal(t, jobs.KindDirect, j.Kind)
	assert.Equal(t, "https://hooks.example.test/resp/1", j.ResponseURL)
	assert.Equal(t, 19, j.Request.Hour)
}

func TestAckDoesNotWaitForBooking(t *testing.T) {
	q := jobs.NewQueue(4, quiet())
	started := make(chan struct{})
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = q.Run(ctx, func(context.Context, jobs.Job) error {
			close(started)
			<-release
			return nil
		})
	}()
	defer close(release)

	srv := httptest.NewServer(newServer(q).Routes())
	defer srv.Close()

	body := actionBody("good")
	req := signed("/slack/actions", body, clock, "")
	out, err := http.NewRequest(http.MethodPost, srv.URL+"/slack/actions", strings.NewReader(body))
	require.NoError(t, err)
	out.Header = req.Header

	start := time.Now()
	resp, err := http.DefaultClient.Do(out)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("booking job never started")
	}
}

func TestRejectedCallbacksEnqueueNothing(t *testing.T) {
	body := actionBody("good")
	cases := map[string]*http.Request{
		"bad signature": signed("/slack/actions", body, clock, "v0=deadbeef"),
		"stale":         signed("/slack/actions", body, clock.Add(-6*time.Minute), ""),
		"future":        signed("/slack/actions", body, clock.Add(6*time.Minute), ""),
		"tampered": func() *http.Request {
			r := signed("/slack/actions", body, clock, "")
			r.Body = io.NopCloser(strings.NewReader(actionBody("good") + "&x=1"))
			return r
		}(),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			q := &countingQueue{}
			w := httptest.NewRecorder()
			newServer(q).Routes().ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Zero(t, q.count())
		})
	}
}

func TestReplayRejected(t *testing.T) {
	q := &countingQueue{}
	h := newServer(q).Routes()
	body := actionBody("good")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signed("/slack/actions", body, clock, ""))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, signed("/slack/actions", body, clock, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, q.count())
}

func TestExpiredTokenAndFullQueue(t *testing.T) {
	q := &countingQueue{}
	w := httptest.NewRecorder()
	newServer(q).Routes().ServeHTTP(w, signed("/slack/actions", actionBody("forged"), clock, ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
	assert.Zero(t, q.count())

	full := &countingQueue{err: jobs.ErrQueueFull}
	w = httptest.NewRecorder()
	newServer(full).Routes().ServeHTTP(w, signed("/slack/actions", actionBody("good"), clock, ""))
	assert.Contains(t, w.Body.String(), "Busy")
}

func TestURLVerificationAndHealth(t *testing.T) {
	h := newServer(&countingQueue{}).Routes()
	body := `{"type":"url_verification","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, signed("/slack/events", body, clock, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOversizedBody(t *testing.T) {
	body := strings.Repeat("a", maxBody+1)
	w := httptest.NewRecorder()
	newServer(&countingQueue{}).Routes().ServeHTTP(w, signed("/slack/actions", body, clock, ""))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := newServer(&countingQueue{})
	s.RPS, s.Burst = 1, 1
	h := s.Routes()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, signed("/slack/events", `{"type":"event_callback"}`, clock, ""))
	assert.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, signed("/slack/events", `{"type":"event_callback","n":2}`, clock, ""))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMemoryNoncesExpire(t *testing.T) {
	n := NewMemoryNonces()
	now := clock
	n.now = func() time.Time { return now }
	ok, _ := n.Claim(context.Background(), "sig", time.Minute)
	assert.True(t, ok)
	ok, _ = n.Claim(context.Background(), "sig", time.Minute)
	assert.False(t, ok)
	now = now.Add(2 * time.Minute)
	ok, _ = n.Claim(context.Background(), "sig", time.Minute)
	assert.True(t, ok)
}
