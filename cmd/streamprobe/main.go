// streamprobe connects to the telemetry websocket and prints decoded
// messages and connectivity events to the console.
// Usage: go run ./cmd/streamprobe -url ws://localhost:8000/ws/telemetry
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridline/meterfeed/internal/connection"
)

func main() {
	wsURL := flag.String("url", "ws://localhost:8000/ws/telemetry", "telemetry websocket URL")
	token := flag.String("token", os.Getenv("METERFEED_TOKEN"), "bearer token")
	device := flag.String("device", "", "request seed history for this device after connect")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := connection.DefaultManagerConfig()
	cfg.URL = *wsURL
	cfg.Token = *token

	mgr := connection.NewManager(cfg, logger)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			mgr.Stop(shutdownCtx)
			shutdownCancel()
			return

		case ev := <-mgr.Events():
			fmt.Printf("[event] %s attempt=%d wait=%s err=%v\n", ev.Kind, ev.Attempt, ev.Wait, ev.Err)
			if ev.Kind == connection.EventConnected && *device != "" {
				if err := mgr.Send(connection.RequestTimeseries(*device)); err != nil {
					logger.Warn("seed request failed", "error", err)
				}
			}

		case msg := <-mgr.Messages():
			if *verbose {
				var pretty any
				if err := json.Unmarshal(msg.Data, &pretty); err == nil {
					out, _ := json.MarshalIndent(pretty, "", "  ")
					fmt.Printf("[%s] %s\n", msg.Type, out)
					continue
				}
			}
			fmt.Printf("[%s] %d bytes at %s\n", msg.Type, len(msg.Data), msg.ReceivedAt.Format(time.RFC3339Nano))
		}
	}
}
