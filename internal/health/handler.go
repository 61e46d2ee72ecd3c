// Package health serves the operational HTTP surface: health checks,
// Prometheus metrics, a device debug view, and the manual-retry endpoint.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridline/meterfeed/internal/connection"
	"github.com/gridline/meterfeed/internal/reducer"
)

// NewRouter builds the HTTP router for the health/metrics server.
func NewRouter(mgr connection.Manager, red reducer.Reducer, metricsPath string, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		stats := mgr.Stats()
		rstats := red.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["channel"] = map[string]any{
			"state":    string(stats.State),
			"attempts": stats.Attempts,
			"dials":    stats.Dials,
		}
		health.Components["stream"] = map[string]any{
			"applied":   rstats.Applied,
			"devices":   len(red.Snapshots()),
			"summaries": len(red.Summaries()),
		}

		switch stats.State {
		case connection.StateOpen:
		case connection.StateConnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/devices", func(w http.ResponseWriter, req *http.Request) {
		snapshots := red.Snapshots()
		summaries := red.Summaries()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"snapshot_count": len(snapshots),
			"snapshots":      snapshots,
			"summaries":      summaries,
		})
	}).Methods(http.MethodGet)

	// Manual retry after the reconnect budget is exhausted.
	r.HandleFunc("/reset", func(w http.ResponseWriter, req *http.Request) {
		logger.Info("manual reset requested", "remote", req.RemoteAddr)
		mgr.Reset()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
	}).Methods(http.MethodPost)

	r.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)

	return r
}
