// Package reducer implements the Stream Reducer component.
//
// The Reducer folds the Connection Manager's message stream, in arrival
// order, into three bounded in-memory views:
//   - latest snapshot per device (merged key-by-key)
//   - capped per-device time series (strictly increasing timestamps)
//   - summary listing rows (replaced wholesale per batch)
//
// Only the Reducer mutates these views; accessors hand out copies.
package reducer
