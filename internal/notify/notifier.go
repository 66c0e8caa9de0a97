// Package notify formats run outcomes and delivers them to a chat webhook
// without blocking the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrDeliveryFailure wraps any failure to hand a message to the webhook.
// Delivery is best-effort: it is logged and never retried.
var ErrDeliveryFailure = errors.New("notification delivery failed")

type Options struct {
	WebhookURL string
	QueueSize  int
	Timeout    time.Duration
	// FailureThreshold consecutive failures open the breaker for Cooldown.
	FailureThreshold uint32
	Cooldown         time.Duration
	Client           *http.Client
}

type Notifier struct {
	opts    Options
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Message
	done   chan struct{}
}

func New(opts Options, log *slog.Logger) *Notifier {
	if opts.QueueSize < 1 {
		opts.QueueSize = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	n := &Notifier{
		opts:   opts,
		client: client,
		log:    log,
		queue:  make(chan Message, opts.QueueSize),
		done:   make(chan struct{}),
	}
	n.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "webhook",
		Timeout: opts.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("webhook circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	go n.worker()
	return n
}

// Send queues msg for delivery and returns immediately. It reports whether
// the message was accepted.
func (n *Notifier) Send(msg Message) bool {
	if msg.ResponseURL == "" && n.opts.WebhookURL == "" {
		n.log.Debug("notification skipped, no webhook configured", "text", msg.Text)
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.log.Warn("notification dropped, notifier closed")
		return false
	}
	select {
	case n.queue <- msg:
		return true
	default:
		n.log.Error("notification dropped, queue full", "err", ErrDeliveryFailure)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) worker() {
	defer close(n.done)
	for msg := range n.queue {
		url := msg.ResponseURL
		if url == "" {
			url = n.opts.WebhookURL
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.opts.Timeout)
		err := n.Deliver(ctx, url, msg)
		cancel()
		if err != nil {
			n.log.Error("notification not delivered", "err", err)
			continue
		}
		n.log.Info("notification delivered", "text", firstLine(msg.Text))
	}
}

// Deliver posts msg synchronously through the circuit breaker.
func (n *Notifier) Deliver(ctx context.Context, url string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrDeliveryFailure, err)
	}
	_, err = n.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(b))
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
