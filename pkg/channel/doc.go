// Package channel provides delivery channels and the registry the
// scheduler resolves them from.
//
// A channel delivers content to a recipient on one platform and reports
// whether it is currently connected. Implementations:
//
//   - Webhook: POSTs JSON to a platform bridge, with retries and a
//     background health checker that flips the channel to disconnected
//     after repeated failures
//   - Log: writes deliveries to the log, for dry runs
//   - Func: wraps a function, for tests and embedding
//
// Registry maps platforms, and optionally individual platform accounts, to
// channels.
package channel
