// Dispatchd delivers scheduled outbound messages for automated agents.
//
// It polls the job store for due jobs, resolves each job's agent, platform
// account and conversation, checks the owner's tier limits, sends through the
// platform's delivery channel and records the sent message.
//
// Usage:
//
//	# Start the dispatcher
//	dispatchd run --config dispatch.yaml
//
//	# Schedule a message
//	dispatchd schedule --conversation conv-1 --agent agent-1 --at 2026-01-02T09:00:00Z "Good morning"
//
//	# Inspect jobs and quota
//	dispatchd jobs --status failed
//	dispatchd usage owner-1
//
//	# Validate configuration
//	dispatchd validate --config dispatch.yaml
package main

import (
	"fmt"
	"os"

	"mercator-hq/dispatch/pkg/cli"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
