package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/c360/lotstream/protocol"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Role            protocol.Role
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RemoteSensor    bool
	ServeSensor     bool
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("LOTSTREAM_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: LOTSTREAM_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("LOTSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: LOTSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("LOTSTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: LOTSTREAM_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("LOTSTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: LOTSTREAM_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.RemoteSensor, "remote-sensor", false,
		"Read threshold distance from a remote sensor over the channel")
	flag.BoolVar(&cfg.ServeSensor, "serve-sensor", false,
		"Expose this gate's distance sensor to other controllers")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [flags] <entry|exit>\n\nFlags:\n", appName)
		flag.PrintDefaults()
	}

	flag.Parse()
	cfg.Role = protocol.Role(flag.Arg(0))
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if !cfg.Role.Valid() {
		return fmt.Errorf("role argument must be %q or %q, got %q",
			protocol.RoleEntry, protocol.RoleExit, string(cfg.Role))
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
