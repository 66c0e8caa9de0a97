package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/court-sniper/internal/browser"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Log in interactively and store the session for later runs",
		Long: `Open the booking page in a browser and capture the logged-in session.
SKEDDA_EMAIL and SKEDDA_PASSWORD are filled in when set; otherwise complete the
login in the browser window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			sessions, err := openSessions(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			state, err := browser.CaptureLogin(ctx, browserOptions(cfg), browser.LoginFlow{
				URL:              cfg.BookingURL,
				LoggedOutMarkers: cfg.Labels.LoggedOutMarkers,
			}, browser.Credentials{
				Email:    cfg.Email,
				Password: cfg.Password,
			}, cmd.OutOrStdout(), log.With("component", "setup"))
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			if err := sessions.Save(state); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session saved to %s\n", cfg.SessionFile)
			return nil
		},
	}
}

func newSessionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "session",
		Short: "Manage the stored login session",
	}
	c.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the stored session so the next run requires setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			sessions, err := openSessions(cfg)
			if err != nil {
				return err
			}
			if err := sessions.Invalidate(); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session at %s cleared\n", cfg.SessionFile)
			return nil
		},
	})
	return c
}
