package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Load the configuration with environment overrides applied and report
every invalid field. Exits with status 2 when the configuration is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}

			catalog, err := cfg.Limits.Catalog()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "✓ Configuration valid")
			fmt.Fprintf(w, "  scheduler: every %s, batch %d\n", cfg.Scheduler.Interval, cfg.Scheduler.BatchSize)
			fmt.Fprintf(w, "  tiers: %d\n", len(catalog.Tiers()))
			fmt.Fprintf(w, "  channels: %d\n", len(cfg.Channels))
			return nil
		},
	}
}
