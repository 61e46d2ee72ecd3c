package reducer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gridline/meterfeed/internal/connection"
)

func msg(kind, payload string) connection.InboundMessage {
	return connection.InboundMessage{
		Type:       kind,
		Data:       []byte(payload),
		ReceivedAt: time.Now(),
	}
}

func fullUpdate(payload string) connection.InboundMessage {
	return msg(connection.MsgFullUpdate, payload)
}

func initialSeries(payload string) connection.InboundMessage {
	return msg(connection.MsgInitialTimeseries, payload)
}

func TestReducer_SnapshotMerge(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(fullUpdate(`{
		"type": "full_update",
		"realtime": {
			"meter-a": {"voltage": 230.0, "active_power": 1500.0, "timestamp": 1000},
			"meter-b": {"voltage": 229.5, "active_power": 800.0, "timestamp": 1000}
		}
	}`))

	// The next update carries only meter-a: meter-b keeps its prior snapshot,
	// meter-a is replaced wholesale (reactive_power was never sent, so it
	// resets to zero rather than surviving from the old snapshot).
	red.Apply(fullUpdate(`{
		"type": "full_update",
		"realtime": {
			"meter-a": {"voltage": 231.2, "active_power": 1520.0, "timestamp": 3000}
		}
	}`))

	snaps := red.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("snapshot count = %d, want 2", len(snaps))
	}

	a := snaps["meter-a"]
	if a.Voltage != 231.2 || a.ActivePower != 1520.0 || a.Timestamp != 3000 {
		t.Errorf("meter-a not updated: %+v", a)
	}
	if a.Device != "meter-a" {
		t.Errorf("meter-a Device = %q, want the map key", a.Device)
	}

	b := snaps["meter-b"]
	if b.Voltage != 229.5 || b.Timestamp != 1000 {
		t.Errorf("meter-b lost its prior snapshot: %+v", b)
	}
}

func TestReducer_SeriesAppendAndDedup(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(fullUpdate(`{
		"type": "full_update",
		"timeseries_point": {"meter-a": {"timestamp": 1000, "active_power": 100}}
	}`))
	red.Apply(fullUpdate(`{
		"type": "full_update",
		"timeseries_point": {"meter-a": {"timestamp": 2000, "active_power": 110}}
	}`))
	// Same timestamp again: a re-delivery, dropped.
	red.Apply(fullUpdate(`{
		"type": "full_update",
		"timeseries_point": {"meter-a": {"timestamp": 2000, "active_power": 999}}
	}`))

	series := red.Series("meter-a")
	if len(series) != 2 {
		t.Fatalf("series length = %d, want 2", len(series))
	}
	if series[0].Timestamp != 1000 || series[1].Timestamp != 2000 {
		t.Errorf("series out of order: %+v", series)
	}
	if series[1].ActivePower != 110 {
		t.Errorf("duplicate overwrote the stored point: %+v", series[1])
	}

	stats := red.Stats()
	if stats.DroppedPoints != 1 {
		t.Errorf("DroppedPoints = %d, want 1", stats.DroppedPoints)
	}
}

func TestReducer_SeriesCapEvictsOldest(t *testing.T) {
	limit := 450
	red := New(Config{SeriesCap: limit}, nil, nil)

	total := 500
	for i := 0; i < total; i++ {
		red.Apply(fullUpdate(fmt.Sprintf(`{
			"type": "full_update",
			"timeseries_point": {"meter-a": {"timestamp": %d, "active_power": %d}}
		}`, 1000+i*2000, i)))
	}

	series := red.Series("meter-a")
	if len(series) != limit {
		t.Fatalf("series length = %d, want %d", len(series), limit)
	}

	// The survivors are the most recent 450, still oldest first.
	wantFirst := int64(1000 + (total-limit)*2000)
	if series[0].Timestamp != wantFirst {
		t.Errorf("first timestamp = %d, want %d", series[0].Timestamp, wantFirst)
	}
	wantLast := int64(1000 + (total-1)*2000)
	if series[limit-1].Timestamp != wantLast {
		t.Errorf("last timestamp = %d, want %d", series[limit-1].Timestamp, wantLast)
	}
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp <= series[i-1].Timestamp {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}

	if got := red.Stats().EvictedPoints; got != int64(total-limit) {
		t.Errorf("EvictedPoints = %d, want %d", got, total-limit)
	}
}

func TestReducer_InitialSeriesReplaces(t *testing.T) {
	red := New(Config{}, nil, nil)

	for i := 0; i < 50; i++ {
		red.Apply(fullUpdate(fmt.Sprintf(`{
			"type": "full_update",
			"timeseries_point": {"meter-a": {"timestamp": %d}}
		}`, 1000+i)))
	}

	// A seed response replaces everything accumulated so far.
	red.Apply(initialSeries(`{
		"type": "initial_timeseries",
		"device": "meter-a",
		"data": [
			{"timestamp": 100, "active_power": 1},
			{"timestamp": 200, "active_power": 2},
			{"timestamp": 300, "active_power": 3}
		]
	}`))

	series := red.Series("meter-a")
	if len(series) != 3 {
		t.Fatalf("series length = %d, want 3", len(series))
	}
	if series[0].Timestamp != 100 || series[2].Timestamp != 300 {
		t.Errorf("seed not applied in order: %+v", series)
	}
}

func TestReducer_InitialSeriesTrimmedToCap(t *testing.T) {
	red := New(Config{SeriesCap: 5}, nil, nil)

	payload := `{"type": "initial_timeseries", "device": "meter-a", "data": [`
	for i := 0; i < 10; i++ {
		if i > 0 {
			payload += ","
		}
		payload += fmt.Sprintf(`{"timestamp": %d}`, 100+i)
	}
	payload += `]}`

	red.Apply(initialSeries(payload))

	series := red.Series("meter-a")
	if len(series) != 5 {
		t.Fatalf("series length = %d, want 5", len(series))
	}
	if series[0].Timestamp != 105 || series[4].Timestamp != 109 {
		t.Errorf("kept the wrong end of the seed: %+v", series)
	}
}

func TestReducer_SummariesReplaceWholesale(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(fullUpdate(`{
		"type": "full_update",
		"summary": [
			{"device": "meter-a", "name": "Main Feed", "active_power": 1500, "timestamp": 1000},
			{"device": "meter-b", "name": "HVAC", "active_power": 800, "timestamp": 1000}
		]
	}`))

	if got := red.Summaries(); len(got) != 2 {
		t.Fatalf("summaries = %d, want 2", len(got))
	}

	// An update without a summary section leaves the table alone.
	red.Apply(fullUpdate(`{
		"type": "full_update",
		"realtime": {"meter-a": {"voltage": 230}}
	}`))
	if got := red.Summaries(); len(got) != 2 {
		t.Errorf("summaries changed by an update without a summary section: %d", len(got))
	}

	// A present-but-empty summary section clears the table.
	red.Apply(fullUpdate(`{
		"type": "full_update",
		"summary": []
	}`))
	if got := red.Summaries(); len(got) != 0 {
		t.Errorf("empty summary batch did not clear the table: %d rows", len(got))
	}
}

func TestReducer_EmptyFullUpdateIsNoOp(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(fullUpdate(`{"type": "full_update"}`))

	if got := red.Snapshots(); len(got) != 0 {
		t.Errorf("snapshots = %d, want 0", len(got))
	}
	if got := red.Summaries(); len(got) != 0 {
		t.Errorf("summaries = %d, want 0", len(got))
	}

	stats := red.Stats()
	if stats.Applied != 1 {
		t.Errorf("Applied = %d, want 1 (no-op still counts)", stats.Applied)
	}
	if stats.ParseErrors != 0 {
		t.Errorf("ParseErrors = %d, want 0", stats.ParseErrors)
	}
}

func TestReducer_UnknownKindDropped(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(msg("device_status", `{"type": "device_status"}`))

	stats := red.Stats()
	if stats.UnknownMessages != 1 {
		t.Errorf("UnknownMessages = %d, want 1", stats.UnknownMessages)
	}
	if stats.Applied != 0 {
		t.Errorf("Applied = %d, want 0", stats.Applied)
	}
}

func TestReducer_MalformedPayloads(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(fullUpdate(`{{{not json`))
	red.Apply(initialSeries(`{"type": "initial_timeseries", "data": []}`)) // missing device

	stats := red.Stats()
	if stats.ParseErrors != 2 {
		t.Errorf("ParseErrors = %d, want 2", stats.ParseErrors)
	}
	if stats.Applied != 0 {
		t.Errorf("Applied = %d, want 0", stats.Applied)
	}
}

func TestReducer_AccessorsReturnCopies(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(fullUpdate(`{
		"type": "full_update",
		"realtime": {"meter-a": {"voltage": 230, "timestamp": 1000}},
		"timeseries_point": {"meter-a": {"timestamp": 1000, "active_power": 100}},
		"summary": [{"device": "meter-a", "name": "Main Feed"}]
	}`))

	snaps := red.Snapshots()
	tampered := snaps["meter-a"]
	tampered.Voltage = -1
	snaps["meter-a"] = tampered
	series := red.Series("meter-a")
	series[0].ActivePower = -1
	sums := red.Summaries()
	sums[0].Name = "tampered"

	if got := red.Snapshots()["meter-a"]; got.Voltage != 230 {
		t.Errorf("snapshot mutated through accessor copy: %+v", got)
	}
	if got := red.Series("meter-a"); got[0].ActivePower != 100 {
		t.Errorf("series mutated through accessor copy: %+v", got[0])
	}
	if got := red.Summaries(); got[0].Name != "Main Feed" {
		t.Errorf("summary mutated through accessor copy: %+v", got[0])
	}
}

func TestReducer_StartConsumesChannel(t *testing.T) {
	input := make(chan connection.InboundMessage, 16)
	red := New(Config{}, input, nil)

	ctx := context.Background()
	if err := red.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	input <- fullUpdate(`{
		"type": "full_update",
		"realtime": {"meter-a": {"voltage": 230, "timestamp": 1000}}
	}`)

	deadline := time.After(time.Second)
	for {
		if len(red.Snapshots()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for fold")
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := red.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestReducer_SeriesDevices(t *testing.T) {
	red := New(Config{}, nil, nil)

	red.Apply(fullUpdate(`{
		"type": "full_update",
		"timeseries_point": {
			"meter-a": {"timestamp": 1000},
			"meter-b": {"timestamp": 1000}
		}
	}`))

	devices := red.SeriesDevices()
	if len(devices) != 2 {
		t.Fatalf("devices = %v, want 2 entries", devices)
	}
	if red.Series("meter-c") != nil {
		t.Error("unknown device should return nil series")
	}
}
