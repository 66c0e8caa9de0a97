package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-sniper/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set; run history is not recorded")
			}
			ctx := cmd.Context()
			rec, err := history.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer rec.Close()

			runs, err := rec.Recent(ctx, limit)
			if err != nil {
				return err
			}
			writeRuns(cmd.OutOrStdout(), runs, cfg.Location)
			return nil
		},
	}

	c.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return c
}

func writeRuns(out io.Writer, runs []history.RunRecord, loc *time.Location) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tMODE\tSTATUS\tCOURT\tSLOT\tATTEMPTS\tTOOK\tDETAIL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.In(loc).Format("2006-01-02 15:04:05"),
			r.Mode, r.Status, dash(r.Court), dash(r.Slot), r.Attempts,
			r.FinishedAt.Sub(r.StartedAt).Round(100*time.Millisecond), dash(r.Detail))
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
