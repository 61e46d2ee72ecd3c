// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Channel state, reconnects, and exhaustion events
//   - Inbound message rates by kind
//   - Reducer drops (stale points, parse errors, unknown kinds)
//   - Tracked device counts
package metrics
