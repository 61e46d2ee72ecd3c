package reducer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gridline/meterfeed/internal/connection"
	"github.com/gridline/meterfeed/internal/metrics"
	"github.com/gridline/meterfeed/internal/model"
)

// Reducer folds inbound application messages into the derived views.
type Reducer interface {
	// Start begins consuming the input channel.
	Start(ctx context.Context) error

	// Stop shuts the fold loop down.
	Stop(ctx context.Context) error

	// Apply folds a single message. Called once per message in arrival
	// order; exported so the fold is testable without a live channel.
	Apply(msg connection.InboundMessage)

	// Snapshots returns a copy of the latest-snapshot table.
	Snapshots() map[string]model.Snapshot

	// Series returns a copy of one device's series, oldest first.
	Series(device string) []model.Point

	// SeriesDevices returns the devices that currently have a series.
	SeriesDevices() []string

	// Summaries returns a copy of the summary listing rows.
	Summaries() []model.Summary

	// Stats returns current counters.
	Stats() Stats
}

// reducerImpl is the internal implementation.
type reducerImpl struct {
	cfg    Config
	logger *slog.Logger

	// Input from the Connection Manager
	input <-chan connection.InboundMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Derived views. Exclusively owned; accessors return copies.
	mu        sync.RWMutex
	snapshots map[string]model.Snapshot
	series    map[string][]model.Point
	summaries []model.Summary
	stats     Stats
}

// New creates a Stream Reducer consuming the given message channel.
func New(cfg Config, input <-chan connection.InboundMessage, logger *slog.Logger) Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SeriesCap < 1 {
		cfg.SeriesCap = DefaultConfig().SeriesCap
	}

	return &reducerImpl{
		cfg:       cfg,
		logger:    logger,
		input:     input,
		snapshots: make(map[string]model.Snapshot),
		series:    make(map[string][]model.Point),
	}
}

// Start begins the fold loop.
func (r *reducerImpl) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.applyLoop()

	r.logger.Info("stream reducer started", "series_cap", r.cfg.SeriesCap)
	return nil
}

// Stop shuts the fold loop down.
func (r *reducerImpl) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("stream reducer stopped")
	case <-ctx.Done():
		r.logger.Warn("stream reducer stop timed out")
	}

	return nil
}

// applyLoop consumes messages in arrival order. No reordering or coalescing
// happens here; timestamp dedup is the only coalescing and it lives in
// appendPointLocked.
func (r *reducerImpl) applyLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.Apply(msg)
		}
	}
}

// Apply folds a single inbound message.
func (r *reducerImpl) Apply(msg connection.InboundMessage) {
	switch msg.Type {
	case connection.MsgFullUpdate:
		r.applyFullUpdate(msg.Data)
	case connection.MsgInitialTimeseries:
		r.applyInitialSeries(msg.Data)
	default:
		// Unknown kinds are dropped with a diagnostic, never escalated.
		r.mu.Lock()
		r.stats.UnknownMessages++
		r.mu.Unlock()
		metrics.ReducerDropsTotal.WithLabelValues("unknown").Inc()
		r.logger.Debug("dropping unknown message kind", "type", msg.Type)
	}
}

// applyFullUpdate merges a periodic broadcast. Any subset of the summary,
// realtime, and timeseries_point sections may be present; an update with
// none of them is an accepted no-op.
func (r *reducerImpl) applyFullUpdate(data []byte) {
	var wire fullUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		metrics.ReducerDropsTotal.WithLabelValues("parse_error").Inc()
		r.logger.Warn("failed to parse full update", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Summary batch replaces the table wholesale, even when empty.
	if wire.Summary != nil {
		summaries := make([]model.Summary, 0, len(wire.Summary))
		for _, s := range wire.Summary {
			summaries = append(summaries, s.toModel())
		}
		r.summaries = summaries
	}

	// Snapshot batch merges key-by-key: devices absent from the batch keep
	// their prior snapshot. A device absent from a message means "no update",
	// never "cleared".
	for device, snap := range wire.Realtime {
		r.snapshots[device] = snap.toModel(device)
	}

	for device, pt := range wire.TimeseriesPoint {
		r.appendPointLocked(device, pt.toModel())
	}

	r.stats.Applied++
	r.stats.FullUpdates++
	metrics.ReducerMessagesTotal.WithLabelValues(connection.MsgFullUpdate).Inc()
}

// applyInitialSeries replaces one device's series outright. This is the
// seeding path for newly selected devices; it never appends.
func (r *reducerImpl) applyInitialSeries(data []byte) {
	var wire initialTimeseriesWire
	if err := json.Unmarshal(data, &wire); err != nil || wire.Device == "" {
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		metrics.ReducerDropsTotal.WithLabelValues("parse_error").Inc()
		r.logger.Warn("failed to parse initial timeseries", "error", err)
		return
	}

	points := make([]model.Point, 0, len(wire.Data))
	for _, p := range wire.Data {
		points = append(points, p.toModel())
	}
	if len(points) > r.cfg.SeriesCap {
		points = points[len(points)-r.cfg.SeriesCap:]
	}

	r.mu.Lock()
	r.series[wire.Device] = points
	r.stats.Applied++
	r.stats.InitialSeries++
	r.mu.Unlock()

	metrics.ReducerMessagesTotal.WithLabelValues(connection.MsgInitialTimeseries).Inc()
	r.logger.Debug("seeded series", "device", wire.Device, "points", len(points))
}

// appendPointLocked appends one point under the dedup/cap rule: a point
// whose timestamp does not advance past the last stored point is a
// re-delivery and is dropped; appending beyond the cap evicts oldest-first.
// Caller holds r.mu.
func (r *reducerImpl) appendPointLocked(device string, pt model.Point) {
	s := r.series[device]

	if n := len(s); n > 0 && pt.Timestamp <= s[n-1].Timestamp {
		r.stats.DroppedPoints++
		metrics.ReducerDropsTotal.WithLabelValues("stale_point").Inc()
		return
	}

	s = append(s, pt)
	if len(s) > r.cfg.SeriesCap {
		evict := len(s) - r.cfg.SeriesCap
		s = append(s[:0:0], s[evict:]...)
		r.stats.EvictedPoints += int64(evict)
	}
	r.series[device] = s
}

// Snapshots returns a copy of the latest-snapshot table.
func (r *reducerImpl) Snapshots() map[string]model.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.Snapshot, len(r.snapshots))
	for k, v := range r.snapshots {
		out[k] = v
	}
	return out
}

// Series returns a copy of one device's series, oldest first.
func (r *reducerImpl) Series(device string) []model.Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.series[device]
	if !ok {
		return nil
	}
	out := make([]model.Point, len(s))
	copy(out, s)
	return out
}

// SeriesDevices returns the devices that currently have a series.
func (r *reducerImpl) SeriesDevices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.series))
	for device := range r.series {
		out = append(out, device)
	}
	return out
}

// Summaries returns a copy of the summary listing rows.
func (r *reducerImpl) Summaries() []model.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Summary, len(r.summaries))
	copy(out, r.summaries)
	return out
}

// Stats returns current counters.
func (r *reducerImpl) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
