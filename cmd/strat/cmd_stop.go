package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "strat stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running host",
		Long:  "Sends SIGTERM to the host process, which saves the session and exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := pidPath()
			if err != nil {
				return err
			}
			lock := hostLock{path: path}
			state, pid, err := lock.inspect()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch state {
			case lockFree:
				fmt.Fprintln(out, "host is not running")
			case lockStale:
				fmt.Fprintf(out, "host %d is gone, clearing its stale lock\n", pid)
				return lock.clear()
			case lockHeld:
				if err := lock.terminate(pid); err != nil {
					return err
				}
				fmt.Fprintf(out, "asked host %d to save and exit\n", pid)
			}
			return nil
		},
	}
}
