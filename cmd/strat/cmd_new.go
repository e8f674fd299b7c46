package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"strat/pkg/repository"
	"strat/pkg/session"
)

// newNewCmd creates the "strat new" subcommand.
func newNewCmd() *cobra.Command {
	var (
		template string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a session from a template and save it",
		Long:  "Builds a fresh session from a TOML template (the built-in one by default)\nand writes it as the save for <name>.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if template != "" {
				cfg.Template = template
			}
			name := args[0]
			repo := repository.New(cfg.DataDir)

			if _, err := repo.Load(name); err == nil && !force {
				return fmt.Errorf("session %q already exists (use --force to replace it)", name)
			}

			t, err := loadTemplate(cfg)
			if err != nil {
				return err
			}
			s, err := session.New(name, t)
			if err != nil {
				return err
			}
			if err := repo.Save(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d teams, %d categories) at %s\n",
				name, len(s.Teams), len(s.Categories), repo.SavePath(name))
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "TOML session template")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing save")
	return cmd
}
