// Package connection implements the real-time telemetry channel.
//
// The Connection Manager:
//   - Owns the websocket transport lifecycle (at most one live transport)
//   - Runs the application-level ping/pong heartbeat while open
//   - Reconnects with bounded exponential backoff, up to a fixed budget
//   - Intercepts pongs and forwards data messages to the Stream Reducer
package connection
