package main

import (
	"fmt"

	"strat/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root strat command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strat",
		Short: "Live session host and displays",
		Long: "strat runs the authoritative session (host) and the read-only displays\n" +
			"(slaves) that follow it over the local network.",
		Version:       fmt.Sprintf("strat %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().String("config", "", "config file (default $STRAT_HOME/config.yaml)")

	cmd.AddCommand(
		newHostCmd(),
		newSlaveCmd(),
		newWatchCmd(),
		newSendCmd(),
		newDiscoverCmd(),
		newProbeCmd(),
		newSavesCmd(),
		newNewCmd(),
		newBackboneCmd(),
		newEventsCmd(),
		newStopCmd(),
		newVersionCmd(),
	)

	return cmd
}
