package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			commit, built := CommitSHA, BuildDate
			// go build stamps vcs info when ldflags did not.
			if info, ok := debug.ReadBuildInfo(); ok {
				for _, s := range info.Settings {
					switch {
					case s.Key == "vcs.revision" && commit == "none":
						commit = s.Value
					case s.Key == "vcs.time" && built == "unknown":
						built = s.Value
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "courtsniper %s (commit=%s, built=%s, %s)\n", Version, commit, built, runtime.Version())
		},
	}
}
