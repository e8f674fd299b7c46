package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"strat/pkg/clock"
	"strat/pkg/config"
	"strat/pkg/discovery"
	"strat/pkg/node"
	"strat/pkg/protocol"
	"strat/pkg/runtime"
	"strat/pkg/session"
)

type slaveOpts struct {
	host     string
	interval time.Duration
	check    bool
}

// newSlaveCmd creates the "strat slave" subcommand.
func newSlaveCmd() *cobra.Command {
	var opts slaveOpts

	cmd := &cobra.Command{
		Use:   "slave",
		Short: "Follow a host and print its session",
		Long: "Connects to the host's snapshot channel, reconnecting whenever the link\n" +
			"drops, and prints a one-line summary of the replicated session.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if opts.host != "" {
				cfg.Host = opts.host
			}
			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			return runSlave(ctx, cmd.OutOrStdout(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "host address (default from config)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 5*time.Second, "minimum time between printed summaries")
	cmd.Flags().BoolVar(&opts.check, "check", true, "ask the address for its role before following it")

	return cmd
}

func runSlave(ctx context.Context, w io.Writer, cfg *config.Config, opts slaveOpts) error {
	if opts.check {
		target := cfg.HostAddr(cfg.Ports.Discovery)
		role, err := discovery.QueryRole(ctx, target, cfg.Timeouts.Discovery)
		switch {
		case err != nil:
			fmt.Fprintf(w, "no discovery reply from %s (%v), following anyway\n", target, err)
		case role != protocol.RoleHost:
			return fmt.Errorf("%s is running as %s, not HOST", cfg.Host, role)
		}
	}

	journal, closeJournal, err := openJournal(ctx, cfg, "slave")
	if err != nil {
		return err
	}
	defer closeJournal()

	var mu sync.Mutex
	var last time.Time
	printer := func(s *session.Session) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(last) < opts.interval {
			return
		}
		last = time.Now()
		fmt.Fprintln(w, summary(s))
	}
	status := func(up bool) {
		if up {
			fmt.Fprintf(w, "connected to %s\n", cfg.Host)
		} else {
			fmt.Fprintf(w, "lost %s, reconnecting\n", cfg.Host)
		}
	}

	n, err := newSlaveNode(cfg, journal, printer, status)
	if err != nil {
		return err
	}
	defer n.Close()
	if err := n.Start(); err != nil {
		return err
	}
	if err := n.SetRole(protocol.RoleSlave); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// newSlaveNode builds a node whose runtime only exists to satisfy the node;
// its clock never runs while the role is SLAVE.
func newSlaveNode(cfg *config.Config, rec node.Recorder, onSnap func(*session.Session), onStatus func(bool)) (*node.Node, error) {
	logger := log.New(log.Writer(), "[slave] ", log.LstdFlags)
	rt, err := runtime.New(&session.Session{Name: "replica", Time: session.Time{Speed: 1}}, runtimeConfig(cfg), runtime.Deps{Logger: logger})
	if err != nil {
		return nil, err
	}
	ncfg := nodeConfig(cfg, rec)
	ncfg.Logger = logger
	ncfg.OnSnapshot = onSnap
	ncfg.OnStatus = onStatus
	return node.New(rt, ncfg), nil
}

// summary renders one line: time, speed, multiplier and the top teams.
func summary(s *session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  x%.2g  mult %.3f ", clock.FormatSeconds(s.Time.Seconds()), s.Time.Speed, s.Multiplier)
	for i, t := range s.Ranking() {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, " | %d. %s %.1f", i+1, t.Name, t.Prestige)
	}
	return b.String()
}
