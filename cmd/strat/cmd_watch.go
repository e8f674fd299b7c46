package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"strat/pkg/broadcast"
	"strat/pkg/session"
)

// newWatchCmd creates the "strat watch" subcommand.
func newWatchCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Full-screen slave display",
		Long:  "Follows the host's snapshot channel and renders the ranking and\ncategories in the terminal. Read-only.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Host = host
			}
			addr := cfg.HostAddr(cfg.Ports.Sync)

			p := tea.NewProgram(newWatchModel(addr), tea.WithAltScreen(), tea.WithContext(cmd.Context()))

			client := &broadcast.Client{
				Addr:        addr,
				Backoff:     cfg.Timeouts.ReconnectBackoff,
				DialTimeout: cfg.Timeouts.Send,
				Logger:      discardLogger{},
				Handler: func(payload []byte) error {
					s, err := session.DecodeSnapshot(payload)
					if err != nil {
						return err
					}
					p.Send(snapshotMsg{s: s})
					return nil
				},
				OnStatus: func(up bool) { p.Send(statusMsg(up)) },
			}
			client.Start()
			defer client.Stop()

			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run display: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host address (default from config)")
	return cmd
}

// discardLogger keeps reconnect chatter off the full-screen display.
type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}
