// Package jobs is the in-process hand-off between request handlers and the
// single worker that owns the browser. Jobs run one at a time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/court-sniper/internal/domain/booking"
)

type Kind string

const (
	KindCheck  Kind = "check"
	KindBook   Kind = "book"
	KindDirect Kind = "direct"
)

type Job struct {
	ID   string
	Kind Kind
	// Request is set for KindDirect.
	Request *booking.BookRequest
	// ResponseURL, when set, receives the result instead of the default
	// channel.
	ResponseURL string
	// WaitForRelease makes a KindBook job wait for the release instant.
	WaitForRelease bool
	// ReleaseAt pins the release a waiting job is for. Zero means the next
	// release at run time.
	ReleaseAt      time.Time
	EnqueuedAt     time.Time
}

func (j Job) String() string {
	if j.Request != nil {
		return fmt.Sprintf("%s %s (%s)", j.Kind, j.Request, j.ID)
	}
	return fmt.Sprintf("%s (%s)", j.Kind, j.ID)
}

func (j Job) Validate() error {
	switch j.Kind {
	case KindCheck, KindBook:
	case KindDirect:
		if j.Request == nil {
			return fmt.Errorf("direct job requires a request")
		}
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	return nil
}

var ErrQueueFull = errors.New("job queue is full")

type Handler func(ctx context.Context, j Job) error

type Queue struct {
	ch  chan Job
	log *slog.Logger
}

func NewQueue(size int, log *slog.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{ch: make(chan Job, size), log: log}
}

// Enqueue never blocks. It assigns an ID and timestamp when missing.
func (q *Queue) Enqueue(j Job) (Job, error) {
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	select {
	case q.ch <- j:
		q.log.Info("job enqueued", "job_id", j.ID, "kind", string(j.Kind), "pending", len(q.ch))
		return j, nil
	default:
		return Job{}, ErrQueueFull
	}
}

func (q *Queue) Pending() int { return len(q.ch) }

// Run executes jobs sequentially until ctx is done. A job already started is
// allowed to finish.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-q.ch:
			q.run(ctx, h, j)
		}
	}
}

func (q *Queue) run(ctx context.Context, h Handler, j Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("job panicked", "job_id", j.ID, "kind", string(j.Kind), "panic", fmt.Sprint(r))
		}
	}()
	err := h(context.WithoutCancel(ctx), j)
	if err != nil {
		q.log.Error("job failed", "job_id", j.ID, "kind", string(j.Kind), "err", err, "took", time.Since(start))
		return
	}
	q.log.Info("job done", "job_id", j.ID, "kind", string(j.Kind), "took", time.Since(start))
}
