package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/dispatch/pkg/scheduler"
)

// The agent, account and conversation commands seed the directory for
// deployments without an upstream system of record.

func newAgentCmd(g *globalFlags) *cobra.Command {
	var agent scheduler.Agent

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}

	add := &cobra.Command{
		Use:   "add ID",
		Short: "Create or update an agent",
		Args:  requireArgs(1, "dispatchd agent add ID [--owner OWNER] [--name NAME]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent.ID = args[0]
			return g.withApp(cmd, func(a *app) error {
				if err := a.store.CreateAgent(cmd.Context(), &agent); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ agent %s (limited as %s)\n", agent.ID, agent.LimitIdentity())
				return nil
			})
		},
	}
	add.Flags().StringVar(&agent.OwnerID, "owner", "", "owner identity rate limits are charged to")
	add.Flags().StringVar(&agent.Name, "name", "", "display name")

	cmd.AddCommand(add)
	return cmd
}

func newAccountCmd(g *globalFlags) *cobra.Command {
	var account scheduler.PlatformAccount
	var platform string

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage agent platform accounts",
	}

	add := &cobra.Command{
		Use:   "add ID",
		Short: "Create or update an agent's account on a platform",
		Args:  requireArgs(1, "dispatchd account add ID --agent AGENT --platform PLATFORM"),
		RunE: func(cmd *cobra.Command, args []string) error {
			account.ID = args[0]
			account.Platform = scheduler.Platform(platform)
			return g.withApp(cmd, func(a *app) error {
				if err := a.store.CreatePlatformAccount(cmd.Context(), &account); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ account %s for agent %s on %s\n", account.ID, account.AgentID, account.Platform)
				return nil
			})
		},
	}
	add.Flags().StringVar(&account.AgentID, "agent", "", "agent ID (required)")
	add.Flags().StringVar(&platform, "platform", "", "platform name (required)")
	add.Flags().StringVar(&account.Handle, "handle", "", "account handle on the platform")
	_ = add.MarkFlagRequired("agent")
	_ = add.MarkFlagRequired("platform")

	cmd.AddCommand(add)
	return cmd
}

func newConversationCmd(g *globalFlags) *cobra.Command {
	var conv scheduler.Conversation
	var platform string
	var messages int

	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage conversations",
	}

	add := &cobra.Command{
		Use:   "add ID",
		Short: "Create or update a conversation",
		Args:  requireArgs(1, "dispatchd conversation add ID --platform PLATFORM --recipient EXTERNAL_ID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv.ID = args[0]
			conv.Platform = scheduler.Platform(platform)
			return g.withApp(cmd, func(a *app) error {
				if err := a.store.CreateConversation(cmd.Context(), &conv); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ conversation %s on %s\n", conv.ID, conv.Platform)
				return nil
			})
		},
	}
	add.Flags().StringVar(&platform, "platform", "", "platform name (required)")
	add.Flags().StringVar(&conv.ExternalID, "recipient", "", "recipient ID on the platform")
	_ = add.MarkFlagRequired("platform")

	show := &cobra.Command{
		Use:   "messages ID",
		Short: "List messages delivered to a conversation, oldest first",
		Args:  requireArgs(1, "dispatchd conversation messages ID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app) error {
				msgs, err := a.store.ListMessages(cmd.Context(), args[0], messages)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), messageTable(msgs))
			})
		},
	}
	show.Flags().IntVar(&messages, "limit", 50, "maximum number of messages")

	cmd.AddCommand(add, show)
	return cmd
}
