package reducer

import "github.com/gridline/meterfeed/internal/model"

// Config holds Stream Reducer configuration.
type Config struct {
	// SeriesCap bounds each device's series. At a 2-second push cadence the
	// default of 450 points covers roughly 15 minutes.
	SeriesCap int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SeriesCap: 450,
	}
}

// Stats contains runtime counters.
type Stats struct {
	Applied         int64 // Messages folded (including no-op full updates)
	FullUpdates     int64
	InitialSeries   int64
	ParseErrors     int64 // Malformed payloads dropped
	UnknownMessages int64 // Unrecognized kinds dropped
	DroppedPoints   int64 // Series points rejected by the dedup rule
	EvictedPoints   int64 // Series points evicted by the cap
}

// Wire types for JSON parsing.

// fullUpdateWire is the periodic broadcast. Any subset of the three
// sections may be present.
type fullUpdateWire struct {
	Type            string                  `json:"type"`
	Summary         []summaryWire           `json:"summary,omitempty"`
	Realtime        map[string]snapshotWire `json:"realtime,omitempty"`
	TimeseriesPoint map[string]pointWire    `json:"timeseries_point,omitempty"`
}

// initialTimeseriesWire seeds one device's series in response to an
// explicit history request.
type initialTimeseriesWire struct {
	Type   string      `json:"type"`
	Device string      `json:"device"`
	Data   []pointWire `json:"data"`
}

type snapshotWire struct {
	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`
	ActivePower   float64 `json:"active_power"`
	ReactivePower float64 `json:"reactive_power"`
	ApparentPower float64 `json:"apparent_power"`
	PowerFactor   float64 `json:"power_factor"`
	Frequency     float64 `json:"frequency"`
	Timestamp     int64   `json:"timestamp"`
}

func (w snapshotWire) toModel(device string) model.Snapshot {
	return model.Snapshot{
		Device:        device,
		Voltage:       w.Voltage,
		Current:       w.Current,
		ActivePower:   w.ActivePower,
		ReactivePower: w.ReactivePower,
		ApparentPower: w.ApparentPower,
		PowerFactor:   w.PowerFactor,
		Frequency:     w.Frequency,
		Timestamp:     w.Timestamp,
	}
}

type pointWire struct {
	Timestamp   int64   `json:"timestamp"`
	ActivePower float64 `json:"active_power"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
}

func (w pointWire) toModel() model.Point {
	return model.Point{
		Timestamp:   w.Timestamp,
		ActivePower: w.ActivePower,
		Voltage:     w.Voltage,
		Current:     w.Current,
	}
}

type summaryWire struct {
	Device      string  `json:"device"`
	Name        string  `json:"name"`
	ActivePower float64 `json:"active_power"`
	Voltage     float64 `json:"voltage"`
	PowerFactor float64 `json:"power_factor"`
	Timestamp   int64   `json:"timestamp"`
}

func (w summaryWire) toModel() model.Summary {
	return model.Summary{
		Device:      w.Device,
		Name:        w.Name,
		ActivePower: w.ActivePower,
		Voltage:     w.Voltage,
		PowerFactor: w.PowerFactor,
		Timestamp:   w.Timestamp,
	}
}
