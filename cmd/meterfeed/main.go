package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridline/meterfeed/internal/catalog"
	"github.com/gridline/meterfeed/internal/config"
	"github.com/gridline/meterfeed/internal/connection"
	"github.com/gridline/meterfeed/internal/health"
	"github.com/gridline/meterfeed/internal/metrics"
	"github.com/gridline/meterfeed/internal/model"
	"github.com/gridline/meterfeed/internal/reducer"
	"github.com/gridline/meterfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty = built-in defaults)")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting meterfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	var cfg *config.FeedConfig
	var err error
	if *configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Backend.RestURL,
		"ws_url", cfg.Backend.WSURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Fetch the meter catalogue to seed the selectable-device list. A
	// failure here is not fatal: the push stream still populates state.
	restClient := catalog.NewClient(
		cfg.Backend.RestURL,
		cfg.Backend.Token,
		catalog.WithLogger(logger),
		catalog.WithTimeout(cfg.Backend.Timeout),
		catalog.WithRetries(3, time.Second),
	)

	devices, err := restClient.GetDevices(ctx)
	if err != nil {
		logger.Warn("failed to fetch device catalogue", "error", err)
	}
	seedDevices := catalog.ActiveDevices(devices)
	logger.Info("device catalogue loaded",
		"total", len(devices),
		"active", len(seedDevices),
	)

	// Connection Manager
	mgr := connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.Backend.WSURL,
		Token:                cfg.Backend.Token,
		PingInterval:         cfg.Channel.PingInterval,
		PongTimeout:          cfg.Channel.PongTimeout,
		ReconnectBaseDelay:   cfg.Channel.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Channel.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
		MessageBufferSize:    cfg.Channel.MessageBuffer,
	}, logger)

	// Stream Reducer
	red := reducer.New(reducer.Config{
		SeriesCap: cfg.Stream.SeriesCap,
	}, mgr.Messages(), logger)

	if err := red.Start(ctx); err != nil {
		logger.Error("failed to start stream reducer", "error", err)
		os.Exit(1)
	}
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	// Health/metrics HTTP server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: health.NewRouter(mgr, red, cfg.Metrics.Path, logger),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	// Drive connectivity metrics and seed history on every (re)connect.
	g.Go(func() error {
		runEventLoop(gctx, mgr, seedDevices, logger)
		return nil
	})

	// Keep the tracked-device gauge current.
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.TrackedDevices.Set(float64(len(red.Snapshots())))
			}
		}
	})

	logger.Info("meterfeed running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("connection manager stop", "error", err)
	}
	if err := red.Stop(shutdownCtx); err != nil {
		logger.Warn("stream reducer stop", "error", err)
	}
	if err := g.Wait(); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	logger.Info("meterfeed stopped")
}

// runEventLoop consumes connectivity events until the context ends.
func runEventLoop(ctx context.Context, mgr connection.Manager, seedDevices []model.Device, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-mgr.Events():
			switch ev.Kind {
			case connection.EventConnected:
				metrics.ChannelUp.Set(1)
				metrics.ReconnectAttempt.Set(0)
				seedHistory(mgr, seedDevices, logger)

			case connection.EventDisconnected:
				metrics.ChannelUp.Set(0)
				metrics.DisconnectsTotal.Inc()
				metrics.ReconnectAttempt.Set(float64(ev.Attempt))
				logger.Info("channel disconnected",
					"attempt", ev.Attempt,
					"retry_in", ev.Wait,
				)

			case connection.EventExhausted:
				metrics.ChannelUp.Set(0)
				metrics.ExhaustionsTotal.Inc()
				logger.Error("channel lost, reconnect budget exhausted; retry via POST /reset",
					"attempts", ev.Attempt,
				)

			case connection.EventError:
				logger.Debug("transport error", "error", ev.Err)
			}
		}
	}
}

// seedHistory requests seed series for every active device plus one
// immediate full update, outside the normal push cadence.
func seedHistory(mgr connection.Manager, devices []model.Device, logger *slog.Logger) {
	for _, d := range devices {
		if err := mgr.Send(connection.RequestTimeseries(d.ID)); err != nil {
			logger.Warn("history request failed", "device", d.ID, "error", err)
			return
		}
	}
	if err := mgr.Send(connection.RequestUpdate()); err != nil {
		logger.Warn("update request failed", "error", err)
	}
	logger.Info("seed requests sent", "devices", len(devices))
}
