package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"strat/pkg/eventlog"
)

type eventsOpts struct {
	session string
	evType  string
	since   time.Duration
	limit   int
}

// newEventsCmd creates the "strat events" subcommand.
func newEventsCmd() *cobra.Command {
	var opts eventsOpts

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event journal",
		Long:  "Prints journaled events (applied commands, autosaves, job failures,\nrole changes), newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reader, err := eventlog.NewReader(cfg.DBPath)
			if err != nil {
				return err
			}
			defer reader.Close()
			return printEvents(cmd.Context(), cmd.OutOrStdout(), reader, opts)
		},
	}

	cmd.Flags().StringVar(&opts.session, "session", "", "only events of this session ID")
	cmd.Flags().StringVar(&opts.evType, "type", "", "only events of this type")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "maximum number of events")

	return cmd
}

func printEvents(ctx context.Context, w io.Writer, reader *eventlog.Reader, opts eventsOpts) error {
	q := eventlog.QueryOpts{SessionID: opts.session, EventType: opts.evType, Limit: opts.limit}
	if opts.since > 0 {
		after := time.Now().Add(-opts.since)
		q.After = &after
	}
	events, err := reader.Query(ctx, q)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}
	for _, e := range events {
		fmt.Fprintf(w, "[%s] %-18s %-6s %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Type, e.Source, e.Payload)
	}
	return nil
}
