package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/dispatch/pkg/cli"
	"mercator-hq/dispatch/pkg/scheduler"
)

func newJobsCmd(g *globalFlags) *cobra.Command {
	var (
		status string
		filter scheduler.JobFilter
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled jobs",
		Long: `List scheduled jobs, newest scheduled time first.

Jobs stuck in processing after a crash are listed here; they are never
retried automatically.`,
		Example: `  dispatchd jobs --status failed
  dispatchd jobs --conversation conv-1 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, err := scheduler.ParseStatus(status)
				if err != nil {
					return cli.NewConfigError("status", err.Error())
				}
				filter.Status = st
			}

			return g.withApp(cmd, func(a *app) error {
				jobs, err := a.scheduler.Jobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), jobTable(jobs))
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, sent, failed)")
	cmd.Flags().StringVar(&filter.ConversationID, "conversation", "", "filter by conversation ID")
	cmd.Flags().StringVar(&filter.AgentID, "agent", "", "filter by agent ID")
	cmd.Flags().IntVar(&filter.Limit, "limit", scheduler.DefaultListLimit, "maximum number of jobs")
	return cmd
}
