package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"strat/pkg/discovery"
	"strat/pkg/protocol"
)

// newDiscoverCmd creates the "strat discover" subcommand.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover [address]",
		Short: "Ask an address which role it is running",
		Long:  "Sends WHO_ARE_YOU? to the discovery port and prints the reply.\nThe address defaults to the configured host.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			target := cfg.HostAddr(cfg.Ports.Discovery)
			if len(args) == 1 {
				target = withPort(args[0], cfg.Ports.Discovery)
			}
			role, err := discovery.QueryRole(cmd.Context(), target, cfg.Timeouts.Discovery)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", target, protocol.ModeReply(role))
			return nil
		},
	}
}

// withPort appends port to addr unless it already carries one.
func withPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
