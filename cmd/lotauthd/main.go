// Package main implements lotauthd, the cloud-side occupancy authority.
// It owns the vehicle registry, the occupancy counter, and session
// billing, answering permission and confirmation requests from the
// gate controllers over NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/lotstream/authority"
	"github.com/c360/lotstream/config"
	"github.com/c360/lotstream/metric"
	"github.com/c360/lotstream/natsclient"
	"github.com/c360/lotstream/pkg/retry"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "lotauthd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("lotauthd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader().Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Lot.Validate(); err != nil {
		return fmt.Errorf("invalid lot configuration: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid")
		return nil
	}

	logger.Info("starting lotauthd",
		"nats_url", cfg.NATS.URL,
		"capacity", cfg.Lot.Capacity)

	ctx := context.Background()

	client := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithLogger(logger.With("component", "natsclient")),
		natsclient.WithClientName(appName),
		natsclient.WithPresence(appName),
		natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
		natsclient.WithToken(cfg.NATS.Token),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
	)
	if cfg.NATS.StreamName != "" {
		natsclient.WithStreamName(cfg.NATS.StreamName)(client)
	}

	// The process must not serve requests without a connected channel.
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("transport unavailable: %w", err)
	}
	defer func() { _ = client.Close(ctx) }()

	var registry *metric.Registry
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		registry = metric.NewRegistry()
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop(5 * time.Second) }()
	}

	auth := authority.New(authority.Deps{
		Channel:         client,
		Config:          cfg.Lot,
		MetricsRegistry: registry,
		Logger:          logger.With("component", "authority"),
	})
	if err := auth.Initialize(); err != nil {
		return fmt.Errorf("initialize authority: %w", err)
	}
	if err := auth.Start(ctx); err != nil {
		return fmt.Errorf("start authority: %w", err)
	}

	waitForShutdown(logger)

	if err := auth.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("authority stop failed", "error", err)
	}
	logger.Info("lotauthd shut down")
	return nil
}

func waitForShutdown(logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutdown signal received", "signal", s.String())
}
