// Package receiver accepts signed interactive callbacks from the chat
// workspace and hands the requested bookings to the job queue.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/court-sniper/internal/domain/booking"
	"github.com/example/court-sniper/internal/jobs"
	"github.com/example/court-sniper/internal/notify"
)

const maxBody = 64 << 10

type TokenDecoder interface {
	Decode(token string) (booking.BookRequest, error)
}

type Enqueuer interface {
	Enqueue(j jobs.Job) (jobs.Job, error)
}

type Server struct {
	Verifier  *Verifier
	Tokens    TokenDecoder
	Jobs      Enqueuer
	Formatter notify.Formatter
	// RPS and Burst bound callbacks per client address.
	RPS   float64
	Burst int
	Log   *slog.Logger
}

func (s *Server) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(newIPLimiter(s.RPS, s.Burst).middleware)
		r.Use(s.verified)
		r.Post("/slack/actions", s.handleActions)
		r.Post("/slack/events", s.handleEvents)
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log().Info("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

type bodyKey struct{}

// verified reads the bounded body, authenticates it and stores it on the
// request context for the handler.
func (s *Server) verified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err := s.Verifier.Verify(r.Context(), r.Header, body); err != nil {
			s.log().Warn("callback rejected", "path", r.URL.Path, "err", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid request"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, body)))
	})
}

func bodyFrom(r *http.Request) []byte {
	b, _ := r.Context().Value(bodyKey{}).([]byte)
	return b
}

type interaction struct {
	Type        string `json:"type"`
	ResponseURL string `json:"response_url"`
	User        struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	form, err := url.ParseQuery(string(bodyFrom(r)))
	if err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}
	var in interaction
	if err := json.Unmarshal([]byte(form.Get("payload")), &in); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if in.Type != "block_actions" {
		writeJSON(w, http.StatusOK, ephemeral("Action received"))
		return
	}

	for _, a := range in.Actions {
		if !strings.HasPrefix(a.ActionID, notify.ActionPrefix) {
			continue
		}
		req, err := s.Tokens.Decode(a.Value)
		if err != nil {
			s.log().Warn("action token rejected", "action_id", a.ActionID, "user", in.User.Username, "err", err)
			writeJSON(w, http.StatusOK, ephemeral("This button has expired. Run a new check for fresh slots."))
			return
		}
		j, err := s.Jobs.Enqueue(jobs.Job{Kind: jobs.KindDirect, Request: &req, ResponseURL: in.ResponseURL})
		if errors.Is(err, jobs.ErrQueueFull) {
			writeJSON(w, http.StatusOK, ephemeral("Busy with another booking. Try again in a minute."))
			return
		}
		if err != nil {
			s.log().Error("enqueue direct booking", "err", err)
			writeJSON(w, http.StatusOK, ephemeral("Could not queue the booking."))
			return
		}
		s.log().Info("direct booking accepted", "job_id", j.ID, "request", req.String(), "user", in.User.Username)
		writeJSON(w, http.StatusOK, s.Formatter.Accepted(req))
		return
	}
	writeJSON(w, http.StatusOK, ephemeral("Action received"))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var ev struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(bodyFrom(r), &ev); err != nil {
		http.Error(w, "bad event", http.StatusBadRequest)
		return
	}
	if ev.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": ev.Challenge})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ephemeral(text string) notify.Message {
	return notify.Message{Text: text, ResponseType: "ephemeral"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves h on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("receiver listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
