package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"strat/pkg/repository"
)

// newSavesCmd creates the "strat saves" subcommand.
func newSavesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "saves [name]",
		Short: "List saves, or the backups of one save",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			repo := repository.New(cfg.DataDir)
			if len(args) == 1 {
				backups, err := repo.ListBackups(args[0])
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), backups, "no backups for "+args[0])
			}
			saves, err := repo.ListSaves()
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), saves, "no saves in "+repo.SavesDir())
		},
	}
}

func printEntries(w io.Writer, entries []repository.Entry, empty string) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, empty)
		return nil
	}
	fmt.Fprintf(w, "%-24s | %-19s | %s\n", "NAME", "MODIFIED", "SIZE")
	for _, e := range entries {
		fmt.Fprintf(w, "%-24s | %-19s | %d\n", e.Name, e.ModTime.Format("2006-01-02 15:04:05"), e.Size)
	}
	return nil
}
