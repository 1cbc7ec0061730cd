// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package main provides the gateway entrypoint. This file should remain
// minimal - all wiring lives in internal/app.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/app"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/config"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to create app: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
