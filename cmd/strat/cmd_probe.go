package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"strat/pkg/node"
)

// newProbeCmd creates the "strat probe" subcommand.
func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [address]",
		Short: "Check that a host accepts command connections",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			target := cfg.Host
			if len(args) == 1 {
				target = args[0]
			}
			target = withPort(target, cfg.Ports.Input)
			if !node.Probe(cmd.Context(), target, cfg.Ports.Input, cfg.Timeouts.Probe) {
				return errors.New(target + " unreachable")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reachable\n", target)
			return nil
		},
	}
}
