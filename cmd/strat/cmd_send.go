package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"strat/pkg/protocol"
	"strat/pkg/relay"
)

// newSendCmd creates the "strat send" subcommand.
func newSendCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "send <type> [key=value...]",
		Short: "Send one command to the host",
		Long: `Sends a command over the command channel and prints the host's answer.

Command types:
  TEAM_PRESTIGE_DELTA       teamId=<id> delta=<n>
  CATEGORY_INFLUENCE_DELTA  teamId=<id> category=<name> delta=<n>
  MATERIAL_ADD              teamId=<id> build=<name> material=<name> amount=<n>
  SET_SPEED                 speed=<n>
  SET_PRESTIGE_MULTIPLIER   mult=<n>
  NEXT_PHASE                build=<name>`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Host = host
			}
			c, err := parseCommandArgs(args)
			if err != nil {
				return err
			}
			client := &relay.Client{Addr: cfg.HostAddr(cfg.Ports.Input), Timeout: cfg.Timeouts.Send}
			return runSend(cmd.Context(), cmd.OutOrStdout(), client, c)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host address (default from config)")
	return cmd
}

// parseCommandArgs builds a command from "TYPE key=value ...".
func parseCommandArgs(args []string) (protocol.Command, error) {
	typ := protocol.CommandType(strings.ToUpper(strings.TrimSpace(args[0])))
	if !typ.Valid() {
		return protocol.Command{}, fmt.Errorf("unknown command type %q", args[0])
	}
	c := protocol.NewCommand(typ)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return protocol.Command{}, fmt.Errorf("argument %q is not key=value", kv)
		}
		c = c.With(k, v)
	}
	return c, nil
}

func runSend(ctx context.Context, w io.Writer, client *relay.Client, c protocol.Command) error {
	if err := client.Send(ctx, c); err != nil {
		return err
	}
	fmt.Fprintln(w, protocol.AckOK)
	return nil
}
