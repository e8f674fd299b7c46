package main

import (
	"fmt"

	"strat/internal/appversion"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the "strat version" subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the strat version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "strat %s\n", appversion.String())
			return nil
		},
	}
}
