// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy dispatches routed requests to backend sessions. It owns
// the per-call timeout, the invocation audit record, and the dispatch
// telemetry; backend error shapes never leak past it.
package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/router"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/store"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/telemetry"
)

// outcomeOK marks a successful invocation in the audit trail.
const outcomeOK = "ok"

// Response is the result of one dispatched invocation.
type Response struct {
	InvocationID string
	Backend      string
	Duration     time.Duration
	Result       json.RawMessage
}

// Option configures a dispatcher.
type Option func(*Dispatcher)

// WithRecorder sets the invocation recorder. Defaults to a no-op.
func WithRecorder(r store.InvocationRecorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithMetrics sets the gateway metrics sink.
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the dispatch logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDefaultTimeout sets the per-call timeout used when a descriptor
// carries no override.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.defaultTimeout = timeout
		}
	}
}

// Dispatcher routes and executes invocations.
type Dispatcher struct {
	router         *router.Router
	recorder       store.InvocationRecorder
	metrics        *telemetry.GatewayMetrics
	logger         *slog.Logger
	defaultTimeout time.Duration
	tracer         trace.Tracer
}

// New creates a dispatcher over the router.
func New(r *router.Router, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router:         r,
		recorder:       store.NopRecorder{},
		logger:         slog.Default(),
		defaultTimeout: 30 * time.Second,
		tracer:         otel.Tracer("mcp-gateway/proxy"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes the request, runs the call under the per-call timeout
// and records the invocation. Every dispatch, including routing
// failures, leaves an audit record.
func (d *Dispatcher) Dispatch(ctx context.Context, req router.Request) (*Response, error) {
	invocationID := uuid.NewString()
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "gateway.dispatch",
		trace.WithAttributes(
			attribute.String("gateway.invocation_id", invocationID),
			attribute.String("gateway.role", req.Role),
			attribute.String("gateway.capability", req.Capability),
		))
	defer span.End()

	decision, err := d.router.Route(req)
	if err != nil {
		d.finish(ctx, span, invocationID, req, "", start, err)
		return nil, err
	}
	backend := decision.Session.Descriptor().Name
	span.SetAttributes(attribute.String("gateway.backend", backend))

	timeout := d.defaultTimeout
	if override := decision.Session.Descriptor().CallTimeout.Std(); override > 0 {
		timeout = override
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := decision.Session.Call(callCtx, req.Capability, req.Payload)
	if err != nil {
		d.finish(ctx, span, invocationID, req, backend, start, err)
		return nil, err
	}

	d.finish(ctx, span, invocationID, req, backend, start, nil)
	return &Response{
		InvocationID: invocationID,
		Backend:      backend,
		Duration:     time.Since(start),
		Result:       result,
	}, nil
}

// finish closes out one dispatch: audit record, metrics, span status
// and the access log line.
func (d *Dispatcher) finish(ctx context.Context, span trace.Span, invocationID string, req router.Request, backend string, start time.Time, err error) {
	duration := time.Since(start)
	outcome := outcomeOK
	if err != nil {
		outcome = string(gwerrors.KindOf(err))
		span.SetStatus(codes.Error, err.Error())
	}

	if recErr := d.recorder.RecordInvocation(ctx, store.Invocation{
		ID:         invocationID,
		Role:       req.Role,
		Capability: req.Capability,
		Backend:    backend,
		Outcome:    outcome,
		Duration:   duration,
	}); recErr != nil {
		d.logger.WarnContext(ctx, "failed to record invocation",
			"invocation_id", invocationID, "error", recErr)
	}
	d.metrics.RecordInvocation(ctx, backend, req.Capability, outcome, duration)

	d.logger.InfoContext(ctx, "dispatch",
		"invocation_id", invocationID,
		"role", req.Role,
		"capability", req.Capability,
		"backend", backend,
		"outcome", outcome,
		"duration_ms", duration.Milliseconds(),
	)
}
