package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/court-sniper/internal/domain/booking"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "courtsniper",
		Short:         "Watches a court booking grid and books the target slot the moment it is released",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newBookCmd())
	root.AddCommand(newSetupCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newServerCmd())

	return root
}

// Execute exits 1 on any error: configuration, a missing session, or a page
// that could not be read. Runs that made no booking exit 0.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, booking.ErrAuthRequired) {
			fmt.Fprintln(os.Stderr, "run `courtsniper setup` to log in again")
		}
		os.Exit(1)
	}
}
