// Command gatewayd runs the storage gateway: the multipart upload
// coordinator, the VFS search index, and the background job engine, all
// fronted by an HTTP API and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/objectfs/storage-gateway/internal/api"
	"github.com/objectfs/storage-gateway/internal/config"
	"github.com/objectfs/storage-gateway/internal/gateway"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway's YAML config file")
	flag.Parse()

	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Global.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}

	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(api.DefaultConfig(cfg.Global.ListenAddr), gw, logger)
	apiServer.Start()
	logger.Info("api server listening", "addr", cfg.Global.ListenAddr)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down api server", "error", err)
	}
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping gateway", "error", err)
	}
}

// newLogger builds the process-wide structured logger. The teacher's
// Monitoring.Logging config always asks for JSON output; level is the one
// knob this command wires through from Global.LogLevel.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
