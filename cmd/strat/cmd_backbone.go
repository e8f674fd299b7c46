package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"strat/pkg/repository"
	"strat/pkg/session"
)

// newBackboneCmd creates the "strat backbone" subcommand.
func newBackboneCmd() *cobra.Command {
	var (
		name string
		sup  session.Supplies
	)

	cmd := &cobra.Command{
		Use:   "backbone",
		Short: "Convert supplied bread, housing and health into influence",
		Long: "Uses the backbone factors of the saved session (built-in factors when\n" +
			"there is no save). Factors are changed on the host with\n" +
			"strat send SET_BACKBONE_FACTOR factor=<bread|housing|health> value=<v>.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if name == "" {
				name = cfg.Session
			}

			b := session.DefaultBackbone()
			s, err := repository.New(cfg.DataDir).Load(name)
			switch {
			case err == nil:
				b = s.Backbone
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "influence %.2f (bread x%.2f, housing x%.2f, health x%.2f)\n",
				b.Influence(sup), b.BreadFactor, b.HousingFactor, b.HealthFactor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "session", "s", "", "session whose factors to use (default from config)")
	cmd.Flags().IntVar(&sup.Bread, "bread", 0, "bread delivered")
	cmd.Flags().IntVar(&sup.Housing1, "housing1", 0, "level 1 housing delivered")
	cmd.Flags().IntVar(&sup.Housing2, "housing2", 0, "level 2 housing delivered")
	cmd.Flags().IntVar(&sup.Health1, "health1", 0, "level 1 health delivered")
	cmd.Flags().IntVar(&sup.Health2, "health2", 0, "level 2 health delivered")
	return cmd
}
