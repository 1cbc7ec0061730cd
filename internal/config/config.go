// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads gateway configuration from a YAML file layered
// with MCPGATE_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Manifest   ManifestConfig   `koanf:"manifest"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Store      StoreConfig      `koanf:"store"`
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Addr          string        `koanf:"addr"`
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

type ManifestConfig struct {
	Path          string        `koanf:"path"`
	Watch         bool          `koanf:"watch"`
	WatchInterval time.Duration `koanf:"watch_interval"`
}

type DispatchConfig struct {
	// CallTimeout is the system-wide default per-call timeout; descriptors
	// may override it in the manifest.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// StartupTimeout bounds transport establishment and handshake.
	StartupTimeout time.Duration `koanf:"startup_timeout"`

	// FailureThreshold is the consecutive-failure count at which a session
	// moves from degraded to failed.
	FailureThreshold int `koanf:"failure_threshold"`

	// Staleness is how long a session may sit idle before routing forces a
	// health check first.
	Staleness time.Duration `koanf:"staleness"`
}

type SupervisorConfig struct {
	Interval           time.Duration `koanf:"interval"`
	HealthCheckTimeout time.Duration `koanf:"health_check_timeout"`
	BackoffInitial     time.Duration `koanf:"backoff_initial"`
	BackoffMax         time.Duration `koanf:"backoff_max"`
}

type StoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Load reads configuration from the given YAML file (optional) and
// MCPGATE_-prefixed environment variables (MCPGATE_LOG_LEVEL -> log.level).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("server.addr", ":8080")
	k.Set("server.shutdown_grace", "10s")
	k.Set("manifest.path", "manifest.yaml")
	k.Set("manifest.watch", false)
	k.Set("manifest.watch_interval", "2s")
	k.Set("dispatch.call_timeout", "30s")
	k.Set("dispatch.startup_timeout", "15s")
	k.Set("dispatch.failure_threshold", 3)
	k.Set("dispatch.staleness", "60s")
	k.Set("supervisor.interval", "10s")
	k.Set("supervisor.health_check_timeout", "5s")
	k.Set("supervisor.backoff_initial", "500ms")
	k.Set("supervisor.backoff_max", "30s")
	k.Set("store.enabled", false)
	k.Set("store.path", "gateway.db")
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "none")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, gwerrors.New(gwerrors.KindConfig, "load config file", err)
		}
	}

	// 2. Load from ENV (MCPGATE_DISPATCH_CALL_TIMEOUT -> dispatch.call_timeout)
	if err := k.Load(env.Provider("MCPGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "MCPGATE_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, gwerrors.New(gwerrors.KindConfig, "load environment", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, gwerrors.New(gwerrors.KindConfig, "unmarshal config", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Dispatch.CallTimeout <= 0 {
		return gwerrors.Newf(gwerrors.KindConfig, "dispatch.call_timeout must be positive, got %v", c.Dispatch.CallTimeout)
	}
	if c.Dispatch.FailureThreshold < 1 {
		return gwerrors.Newf(gwerrors.KindConfig, "dispatch.failure_threshold must be >= 1, got %d", c.Dispatch.FailureThreshold)
	}
	if c.Supervisor.Interval <= 0 {
		return gwerrors.Newf(gwerrors.KindConfig, "supervisor.interval must be positive, got %v", c.Supervisor.Interval)
	}
	if c.Manifest.Path == "" {
		return gwerrors.Newf(gwerrors.KindConfig, "manifest.path is required")
	}
	return nil
}
