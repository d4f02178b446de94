// Package scheduler delivers time-delayed outbound messages for agents.
//
// # Overview
//
// A Job is persisted as pending with a scheduled time. On every tick the
// Scheduler polls for due jobs (pending and scheduled at or before now), takes
// at most a batch of them oldest first, and handles each one in turn:
//
//  1. pending -> processing is persisted before anything external happens
//  2. the agent, the conversation, the agent's platform account and the
//     delivery channel are resolved; the channel must report connected
//  3. the recipient is the conversation's external ID
//  4. the rate limiter is checked for the agent's owner
//  5. the channel sends; the message is stored, the conversation touched,
//     the job moved to sent and usage incremented
//
// Any failure in steps 2 to 5 moves the job to failed with the error text and
// the batch moves on. A store failure ends the batch instead.
//
// # Single flight
//
// Only one poll runs at a time. A tick that fires while a batch is still
// being delivered is dropped, not queued.
//
// # Lifecycle
//
//	s, err := scheduler.New(deps, scheduler.WithInterval(30*time.Second))
//	s.Start(ctx) // arms the ticker and polls once right away
//	...
//	s.Stop()     // disarms the ticker and waits for the current batch
//
// Failed jobs are never retried, and jobs left in processing by an aborted
// batch stay there. Both show up in Jobs for an operator to act on.
package scheduler
