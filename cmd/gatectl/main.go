// Package main implements gatectl, the edge-side gate controller. One
// process drives one gate in either the entry or exit role, selected
// by a required positional argument.
//
// Without physical hardware attached the process runs with simulated
// devices driven from stdin:
//
//	scan ABC123    present a credential to the reader
//	dist 0.05      set the distance sensor reading in meters
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/c360/lotstream/bridge"
	"github.com/c360/lotstream/config"
	"github.com/c360/lotstream/gate"
	"github.com/c360/lotstream/metric"
	"github.com/c360/lotstream/natsclient"
	"github.com/c360/lotstream/pkg/retry"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "gatectl"
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
		slog.Error("gatectl failed", "error", err)
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
	cfg.Gate.Role = cliCfg.Role
	if err := cfg.Gate.Validate(); err != nil {
		return fmt.Errorf("invalid gate configuration: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid")
		return nil
	}

	processName := fmt.Sprintf("%s-%s", appName, cliCfg.Role)
	logger.Info("starting gatectl",
		"role", string(cliCfg.Role),
		"nats_url", cfg.NATS.URL)

	ctx := context.Background()

	client := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithLogger(logger.With("component", "natsclient")),
		natsclient.WithClientName(processName),
		natsclient.WithPresence(processName),
		natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
		natsclient.WithToken(cfg.NATS.Token),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
	)
	if cfg.NATS.StreamName != "" {
		natsclient.WithStreamName(cfg.NATS.StreamName)(client)
	}

	// The controller must not enter its loop without a connected channel.
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("transport unavailable: %w", err)
	}
	defer func() { _ = client.Close(ctx) }()

	var registry *metric.Registry
	if cfg.Metrics.Enabled {
		registry = metric.NewRegistry()
		metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop(5 * time.Second) }()
	}

	reader := gate.NewSimReader()
	localSensor := gate.NewSimSensor(10.0)
	actuator := gate.NewSimActuator()

	var sensor gate.DistanceSensor = localSensor
	if cliCfg.RemoteSensor {
		remote := gate.NewRemoteDistanceSensor(client, time.Second,
			logger.With("component", "remote_sensor"))
		if err := remote.Listen(ctx); err != nil {
			return fmt.Errorf("attach remote sensor: %w", err)
		}
		sensor = remote
	}
	if cliCfg.ServeSensor {
		server := gate.NewDistanceServer(client, localSensor,
			logger.With("component", "distance_server"))
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("serve distance sensor: %w", err)
		}
	}

	controller := gate.New(gate.Deps{
		Channel:         client,
		Bridge:          bridge.New(client, logger.With("component", "bridge")),
		Reader:          reader,
		Sensor:          sensor,
		Actuator:        actuator,
		Config:          cfg.Gate,
		MetricsRegistry: registry,
		Logger:          logger.With("component", "gate", "role", string(cliCfg.Role)),
	})
	if err := controller.Initialize(); err != nil {
		return fmt.Errorf("initialize controller: %w", err)
	}
	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}

	go runSimConsole(reader, localSensor, logger)

	waitForShutdown(logger)

	if err := controller.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("controller stop failed", "error", err)
	}
	logger.Info("gatectl shut down")
	return nil
}

// runSimConsole drives the simulated hardware from stdin.
func runSimConsole(reader *gate.SimReader, sensor *gate.SimSensor, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "scan":
			reader.Present(fields[1])
			logger.Info("simulated credential presented", "uid", fields[1])
		case "dist":
			d, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				logger.Warn("bad distance value", "input", fields[1])
				continue
			}
			sensor.Set(d)
			logger.Info("simulated distance set", "distance", d)
		}
	}
}

func waitForShutdown(logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutdown signal received", "signal", s.String())
}
