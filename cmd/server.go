package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-sniper/internal/jobs"
	"github.com/example/court-sniper/internal/receiver"
	"github.com/example/court-sniper/internal/scheduler"
)

func newServerCmd() *cobra.Command {
	var (
		daily     bool
		warmup    time.Duration
		queueSize int
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the callback receiver, the job worker and the daily release loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			nonces, closeNonces, err := openNonces(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer closeNonces()

			// worker: one job at a time against the single session
			q := jobs.NewQueue(queueSize, log.With("component", "jobs"))
			go func() { _ = q.Run(ctx, a.engine.HandleJob) }()

			// release loop
			if daily {
				d := &scheduler.Daily{
					Planner: a.engine.Planner,
					Jobs:    q,
					Warmup:  warmup,
					Log:     log.With("component", "daily"),
				}
				go func() { _ = d.Run(ctx) }()
			}

			rs := &receiver.Server{
				Verifier: &receiver.Verifier{
					Secret: []byte(cfg.SlackSigningSecret),
					Window: cfg.ReplayWindow,
					Nonces: nonces,
				},
				Tokens:    a.codec,
				Jobs:      q,
				Formatter: a.engine.Formatter,
				RPS:       cfg.CallbackRPS,
				Burst:     cfg.CallbackBurst,
				Log:       log.With("component", "receiver"),
			}
			return receiver.Start(ctx, cfg.ListenAddr, rs.Routes(), log)
		},
	}

	cmd.Flags().BoolVar(&daily, "daily", true, "queue a book run ahead of every release")
	cmd.Flags().DurationVar(&warmup, "warmup", time.Minute, "how long before the release the daily run is queued")
	cmd.Flags().IntVar(&queueSize, "queue", 16, "max pending jobs")
	return cmd
}

// openNonces picks the shared redis store when configured.
func openNonces(ctx context.Context, redisURL string) (receiver.NonceStore, func(), error) {
	if redisURL == "" {
		return receiver.NewMemoryNonces(), func() {}, nil
	}
	c, err := receiver.DialRedis(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return receiver.NewRedisNonces(c), func() { _ = c.Close() }, nil
}
