package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/dispatch/pkg/cli"
	"mercator-hq/dispatch/pkg/scheduler"
)

func newScheduleCmd(g *globalFlags) *cobra.Command {
	var (
		conversationID string
		agentID        string
		contentType    string
		at             string
		in             time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule [flags] CONTENT",
		Short: "Schedule a message for later delivery",
		Example: `  dispatchd schedule --conversation conv-1 --agent agent-1 --at 2026-01-02T09:00:00Z "Good morning"
  dispatchd schedule --conversation conv-1 --agent agent-1 --in 2h "Reminder"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := scheduler.ParseContentType(contentType)
			if err != nil {
				return cli.NewConfigError("type", err.Error())
			}
			when, err := resolveScheduleTime(at, in, time.Now())
			if err != nil {
				return err
			}

			return g.withApp(cmd, func(a *app) error {
				job, err := a.scheduler.Schedule(cmd.Context(), scheduler.ScheduleRequest{
					ConversationID: conversationID,
					AgentID:        agentID,
					Content:        strings.Join(args, " "),
					ContentType:    ct,
					ScheduledAt:    when,
				})
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), jobTable{job})
			})
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID (required)")
	cmd.Flags().StringVar(&agentID, "agent", "", "sending agent ID (required)")
	cmd.Flags().StringVar(&contentType, "type", string(scheduler.ContentText), "content type (text, image, audio, video, file)")
	cmd.Flags().StringVar(&at, "at", "", "delivery time, RFC 3339")
	cmd.Flags().DurationVar(&in, "in", 0, "delivery delay from now")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("agent")
	cmd.MarkFlagsMutuallyExclusive("at", "in")
	return cmd
}

// resolveScheduleTime turns --at or --in into an absolute time. Neither flag
// means now.
func resolveScheduleTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, cli.NewConfigError("at", fmt.Sprintf("not an RFC 3339 time: %q", at))
		}
		return t.UTC(), nil
	case in < 0:
		return time.Time{}, cli.NewConfigError("in", "must not be negative")
	default:
		return now.Add(in).UTC(), nil
	}
}
