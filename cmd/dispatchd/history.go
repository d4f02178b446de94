package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/dispatch/pkg/cli"
	"mercator-hq/dispatch/pkg/limits/history"
)

var errHistoryDisabled = errors.New("history is disabled in configuration")

func newHistoryCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Record and query usage snapshots",
	}
	cmd.AddCommand(
		newHistoryRecordCmd(g),
		newHistoryListCmd(g),
		newHistoryPruneCmd(g),
	)
	return cmd
}

func newHistoryRecordCmd(g *globalFlags) *cobra.Command {
	var (
		tier       string
		period     string
		start, end string
		agg        history.Aggregates
	)

	cmd := &cobra.Command{
		Use:   "record IDENTITY",
		Short: "Append a usage snapshot for a closed period",
		Long: `Append a usage snapshot. The tier defaults to the identity's current tier
and must exist in the catalog.`,
		Example: `  dispatchd history record owner-1 --period day --start 2026-01-01T00:00:00Z --end 2026-01-02T00:00:00Z --requests 120 --cost 1.20`,
		Args: requireArgs(1, "dispatchd history record IDENTITY"),
		RunE: func(cmd *cobra.Command, args []string) error {
			periodType, err := history.ParsePeriodType(period)
			if err != nil {
				return cli.NewConfigError("period", err.Error())
			}
			periodStart, err := parseTimeFlag("start", start)
			if err != nil {
				return err
			}
			periodEnd, err := parseTimeFlag("end", end)
			if err != nil {
				return err
			}

			return g.withApp(cmd, func(a *app) error {
				if a.recorder == nil {
					return errHistoryDisabled
				}
				identity := args[0]
				if tier == "" {
					status, err := a.limiter.Peek(cmd.Context(), identity)
					if err != nil {
						return err
					}
					tier = string(status.Tier)
				}

				record, err := a.recorder.Record(cmd.Context(), identity, tier, agg, periodStart, periodEnd, periodType)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), historyTable{record})
			})
		},
	}

	cmd.Flags().StringVar(&tier, "tier", "", "tier at the time of the snapshot")
	cmd.Flags().StringVar(&period, "period", string(history.PeriodDay), "period type (hour, day, month)")
	cmd.Flags().StringVar(&start, "start", "", "period start, RFC 3339 (required)")
	cmd.Flags().StringVar(&end, "end", "", "period end, RFC 3339 (required)")
	cmd.Flags().Int64Var(&agg.Requests, "requests", 0, "requests in the period")
	cmd.Flags().Int64Var(&agg.Tokens, "tokens", 0, "tokens in the period")
	cmd.Flags().Float64Var(&agg.Cost, "cost", 0, "cost in the period, USD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newHistoryListCmd(g *globalFlags) *cobra.Command {
	var (
		q            history.Query
		period       string
		since, until string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List usage snapshots, newest period first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if period != "" {
				p, err := history.ParsePeriodType(period)
				if err != nil {
					return cli.NewConfigError("period", err.Error())
				}
				q.PeriodType = p
			}
			if since != "" {
				t, err := parseTimeFlag("since", since)
				if err != nil {
					return err
				}
				q.StartTime = &t
			}
			if until != "" {
				t, err := parseTimeFlag("until", until)
				if err != nil {
					return err
				}
				q.EndTime = &t
			}

			return g.withApp(cmd, func(a *app) error {
				if a.recorder == nil {
					return errHistoryDisabled
				}
				records, err := a.recorder.Query(cmd.Context(), &q)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), historyTable(records))
			})
		},
	}

	cmd.Flags().StringVar(&q.Identity, "identity", "", "filter by identity")
	cmd.Flags().StringVar(&q.Tier, "tier", "", "filter by tier")
	cmd.Flags().StringVar(&period, "period", "", "filter by period type")
	cmd.Flags().StringVar(&since, "since", "", "earliest period start, RFC 3339")
	cmd.Flags().StringVar(&until, "until", "", "latest period start, RFC 3339")
	cmd.Flags().IntVar(&q.Limit, "limit", history.DefaultQueryLimit, "maximum number of records")
	return cmd
}

func newHistoryPruneCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots past the retention period now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app) error {
				if a.history == nil {
					return errHistoryDisabled
				}
				pruner := history.NewPruner(a.history, &history.RetentionConfig{
					RetentionDays: a.cfg.History.RetentionDays,
				})
				n, err := pruner.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ pruned %d records\n", n)
				return nil
			})
		},
	}
}

func parseTimeFlag(name, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, cli.NewConfigError(name, fmt.Sprintf("not an RFC 3339 time: %q", value))
	}
	return t.UTC(), nil
}
