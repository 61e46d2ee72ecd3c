package model

// Device is one physical energy meter from the backend catalogue.
type Device struct {
	ID     string // Stable identifier (e.g., "meter-bldg-a-01")
	Name   string // Display name
	Active bool   // False for decommissioned meters
}

// Snapshot is the latest instantaneous reading for one device.
// It is overwritten wholesale on every inbound update for that device;
// there is no per-field merge.
type Snapshot struct {
	Device        string  // Device ID
	Voltage       float64 // Volts
	Current       float64 // Amps
	ActivePower   float64 // Watts
	ReactivePower float64 // VAR
	ApparentPower float64 // VA
	PowerFactor   float64 // Dimensionless, 0-1
	Frequency     float64 // Hertz
	Timestamp     int64   // Reading time (ms since epoch)
}

// Point is a single time-series sample used for short-window charting.
type Point struct {
	Timestamp   int64   // Sample time (ms since epoch)
	ActivePower float64 // Watts
	Voltage     float64 // Volts
	Current     float64 // Amps
}

// Summary is the lightweight listing row for one device, a subset of
// Snapshot used by selection UIs. Replaced wholesale per summary batch.
type Summary struct {
	Device      string  // Device ID
	Name        string  // Display name
	ActivePower float64 // Watts
	Voltage     float64 // Volts
	PowerFactor float64 // Dimensionless, 0-1
	Timestamp   int64   // Reading time (ms since epoch)
}
