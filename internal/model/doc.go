// Package model defines shared data types used across meterfeed.
//
// Conventions:
//   - Timestamps are milliseconds since epoch (the backend's wire unit)
//   - Electrical units: volts, amps, watts, VAR, VA, hertz
//   - Device IDs are the stable meter names assigned by the backend
package model
