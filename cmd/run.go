package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/court-sniper/internal/config"
	"github.com/example/court-sniper/internal/domain/booking"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report availability from today through the booking window without booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine.Check(ctx)
			printResult(cmd.OutOrStdout(), res)
			return err
		},
	}
}

func newBookCmd() *cobra.Command {
	var (
		wait  bool
		date  string
		court string
		hour  int
	)

	c := &cobra.Command{
		Use:   "book",
		Short: "Book the target slot on the first day in the window that has one",
		Long: `Book the target slot. With --wait the run holds until just before the
next release and books the days it opens. With --date, --court and --hour it
books exactly that cell instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("wait") {
				wait = cfg.WaitForRelease
			}
			var req *booking.BookRequest
			if date != "" {
				r, err := slotRequest(cfg, date, court, hour)
				if err != nil {
					return err
				}
				req = &r
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			var res booking.RunResult
			if req != nil {
				res, err = a.engine.BookSlot(ctx, *req)
			} else {
				res, err = a.engine.Book(ctx, wait)
			}
			printResult(cmd.OutOrStdout(), res)
			return err
		},
	}

	c.Flags().BoolVar(&wait, "wait", false, "wait for the next release before booking (default ENABLE_WAIT_FOR_RELEASE)")
	c.Flags().StringVar(&date, "date", "", "book one specific date (YYYY-MM-DD)")
	c.Flags().StringVar(&court, "court", "", "court for --date (default the first target court)")
	c.Flags().IntVar(&hour, "hour", -1, "start hour for --date (default TARGET_START_HOUR)")
	return c
}

func slotRequest(cfg config.Config, date, court string, hour int) (booking.BookRequest, error) {
	d, err := booking.ParseDate(date, cfg.Location)
	if err != nil {
		return booking.BookRequest{}, fmt.Errorf("invalid --date (want YYYY-MM-DD): %w", err)
	}
	if court == "" {
		court = cfg.Courts[0]
	}
	known := false
	for _, c := range cfg.Courts {
		if strings.EqualFold(c, court) {
			court, known = c, true
		}
	}
	if !known {
		return booking.BookRequest{}, fmt.Errorf("--court %q is not one of TARGET_COURTS", court)
	}
	if hour < 0 {
		hour = cfg.TargetStartHour
	}
	if hour > 23 {
		return booking.BookRequest{}, errors.New("--hour must be within 0-23")
	}
	return booking.BookRequest{Date: d, Court: court, Hour: hour}, nil
}

// printResult writes a short human summary of a run.
func printResult(w io.Writer, res booking.RunResult) {
	for _, scan := range res.Scans {
		var open []string
		for _, o := range scan.Observations {
			if o.Availability == booking.AvailabilityAvailable {
				open = append(open, o.Court.Name+" "+o.Slot.Label())
			}
		}
		if len(open) == 0 {
			fmt.Fprintf(w, "%s  nothing available\n", scan.Date.Format("Mon 2006-01-02"))
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", scan.Date.Format("Mon 2006-01-02"), strings.Join(open, ", "))
	}
	switch {
	case res.Err != nil:
		// reported by Execute
	case res.Booked != nil:
		fmt.Fprintf(w, "booked %s on %s at %s\n", res.Booked.Court.Name, booking.FormatDate(res.Booked.Slot.Date), res.Booked.Slot.Label())
	case res.Mode != booking.ModeCheck:
		fmt.Fprintf(w, "no booking made (%d attempts)\n", len(res.Attempts))
	}
}
