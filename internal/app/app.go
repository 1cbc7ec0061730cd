// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package app wires together all gateway components. This is the
// composition root; every dependency is created and connected here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/config"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/httpapi"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/proxy"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/resilience"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/router"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/session"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/store"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/supervisor"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/telemetry"
)

const serviceName = "enterprise-mcp-gateway"

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App holds the gateway's long-lived components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates the application. Logging is configured here so every
// later failure is reported through the structured logger.
func New(cfg *config.Config) (*App, error) {
	logger := telemetry.ConfigureSlog(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	return &App{cfg: cfg, logger: logger}, nil
}

// Run brings the gateway up and blocks until the context is cancelled
// or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	shutdownTelemetry, err := telemetry.Init(serviceName, Version, telemetry.Config{
		Exporter:     a.cfg.Telemetry.Exporter,
		OTLPEndpoint: a.cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: a.cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	metrics, err := telemetry.NewGatewayMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// Registry: fatal on a malformed manifest, the gateway refuses to run.
	reg, err := registry.Load(a.cfg.Manifest.Path)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	regStore := registry.NewStore(reg)
	a.logger.Info("manifest loaded",
		"path", a.cfg.Manifest.Path, "backends", len(reg.Descriptors()))

	// Sessions
	manager := session.NewManager(reg,
		session.WithManagerLogger(a.logger),
		session.WithCloseGrace(a.cfg.Server.ShutdownGrace),
		session.WithSessionOptions(
			session.WithFailureThreshold(a.cfg.Dispatch.FailureThreshold),
			session.WithStaleness(a.cfg.Dispatch.Staleness),
			session.WithStartupTimeout(a.cfg.Dispatch.StartupTimeout),
			session.WithSessionLogger(a.logger),
		),
	)
	defer manager.CloseAll()

	// Backends that fail to start stay failed; the supervisor retries
	// them. Only context cancellation aborts startup.
	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start sessions: %w", err)
	}

	// Manifest watcher
	if a.cfg.Manifest.Watch {
		watcher := registry.NewWatcher(a.cfg.Manifest.Path, regStore,
			registry.WithInterval(a.cfg.Manifest.WatchInterval),
			registry.WithLogger(a.logger),
		)
		watcher.OnReload(func(r *registry.Registry) {
			manager.Reconcile(ctx, r)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	// Persistence
	recorder := store.InvocationRecorder(store.NopRecorder{})
	var reader httpapi.InvocationReader
	if a.cfg.Store.Enabled {
		db, err := store.Open(a.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open invocation store: %w", err)
		}
		defer db.Close()
		recorder = db
		reader = db
		a.logger.Info("invocation store enabled", "path", a.cfg.Store.Path)
	}

	// Routing and dispatch
	rt := router.New(regStore, manager)
	dispatcher := proxy.New(rt,
		proxy.WithRecorder(recorder),
		proxy.WithMetrics(metrics),
		proxy.WithLogger(a.logger),
		proxy.WithDefaultTimeout(a.cfg.Dispatch.CallTimeout),
	)

	// Supervisor
	sup := supervisor.New(manager,
		supervisor.WithInterval(a.cfg.Supervisor.Interval),
		supervisor.WithHealthTimeout(a.cfg.Supervisor.HealthCheckTimeout),
		supervisor.WithBackoff(resilience.Backoff{
			InitialDelay: a.cfg.Supervisor.BackoffInitial,
			MaxDelay:     a.cfg.Supervisor.BackoffMax,
			Multiplier:   2.0,
			Jitter:       0.1,
		}),
		supervisor.WithLogger(a.logger),
		supervisor.WithMetrics(metrics),
	)
	sup.Start(ctx)
	defer sup.Stop()

	// HTTP boundary
	apiOpts := []httpapi.Option{httpapi.WithLogger(a.logger)}
	if reader != nil {
		apiOpts = append(apiOpts, httpapi.WithInvocationReader(reader))
	}
	api := httpapi.NewServer(dispatcher, regStore, manager, apiOpts...)

	return a.serve(ctx, api.Handler())
}

func (a *App) serve(ctx context.Context, handler http.Handler) error {
	server := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("gateway listening", "addr", a.cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
