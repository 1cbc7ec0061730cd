// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics tracks invocation throughput and session health for
// production monitoring. All methods are nil-safe so callers can run
// without metrics wired.
type GatewayMetrics struct {
	// invocationCounter tracks total invocations by backend, capability
	// and outcome.
	invocationCounter metric.Int64Counter

	// invocationLatency tracks end-to-end dispatch latency in ms.
	invocationLatency metric.Float64Histogram

	// sessionStateGauge tracks session lifecycle state per backend.
	sessionStateGauge metric.Int64Gauge

	// restartCounter tracks supervisor restart attempts per backend.
	restartCounter metric.Int64Counter
}

// NewGatewayMetrics creates the gateway metrics set on the global meter.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter("mcp-gateway")

	invocationCounter, err := meter.Int64Counter(
		"gateway.invocations.total",
		metric.WithDescription("Total invocations by backend, capability and outcome"),
	)
	if err != nil {
		return nil, err
	}

	invocationLatency, err := meter.Float64Histogram(
		"gateway.invocations.duration",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sessionStateGauge, err := meter.Int64Gauge(
		"gateway.sessions.state",
		metric.WithDescription("Session state per backend (0=uninitialized through 5=closed)"),
	)
	if err != nil {
		return nil, err
	}

	restartCounter, err := meter.Int64Counter(
		"gateway.sessions.restarts",
		metric.WithDescription("Supervisor restart attempts per backend"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		invocationCounter: invocationCounter,
		invocationLatency: invocationLatency,
		sessionStateGauge: sessionStateGauge,
		restartCounter:    restartCounter,
	}, nil
}

// RecordInvocation counts one completed dispatch and its latency.
func (gm *GatewayMetrics) RecordInvocation(ctx context.Context, backend, capability, outcome string, d time.Duration) {
	if gm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("capability", capability),
		attribute.String("outcome", outcome),
	)
	gm.invocationCounter.Add(ctx, 1, attrs)
	gm.invocationLatency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

// RecordSessionState records the current lifecycle state of a backend
// session.
func (gm *GatewayMetrics) RecordSessionState(ctx context.Context, backend string, state int64) {
	if gm == nil {
		return
	}
	gm.sessionStateGauge.Record(ctx, state,
		metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordRestart counts one supervisor restart attempt.
func (gm *GatewayMetrics) RecordRestart(ctx context.Context, backend string, succeeded bool) {
	if gm == nil {
		return
	}
	gm.restartCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.Bool("succeeded", succeeded),
		))
}
