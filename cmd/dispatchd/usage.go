package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/dispatch/pkg/limits"
)

func newUsageCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "usage IDENTITY",
		Short: "Show remaining quota for an identity",
		Long: `Show the tier, per-window usage and monthly budget of an identity without
counting a request. Identities never seen before show their starting tier.`,
		Args: requireArgs(1, "dispatchd usage IDENTITY"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app) error {
				status, err := a.limiter.Peek(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), statusTable{status})
			})
		},
	}
}

func newTierCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tier",
		Short: "Manage identity tiers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set IDENTITY TIER",
		Short: "Assign a tier to an identity",
		Long: `Assign a tier to an identity. The new ceilings apply from the next request;
counts already accumulated in open windows are kept.`,
		Args: requireArgs(2, "dispatchd tier set IDENTITY TIER"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app) error {
				if err := a.limiter.SetTier(cmd.Context(), args[0], limits.TierName(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is now on tier %s\n", args[0], args[1])
				return nil
			})
		},
	})
	return cmd
}

func newTiersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the tier catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			catalog, err := cfg.Limits.Catalog()
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), tierTable(catalog.Tiers()))
		},
	}
}
