// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs the background health loop: periodic pings on
// live sessions and backoff-gated restarts of failed ones. It never
// holds a lock across a dispatch path; all shared state lives in the
// sessions themselves.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/resilience"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/session"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/telemetry"
)

// Option configures a supervisor.
type Option func(*Supervisor)

// WithInterval sets the sweep interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Supervisor) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithHealthTimeout bounds each health-check ping.
func WithHealthTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		if timeout > 0 {
			s.healthTimeout = timeout
		}
	}
}

// WithBackoff sets the restart backoff policy.
func WithBackoff(b resilience.Backoff) Option {
	return func(s *Supervisor) { s.backoff = b }
}

// WithLogger sets the supervisor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the gateway metrics sink.
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// restartState tracks the backoff schedule for one failed backend.
type restartState struct {
	attempts int
	next     time.Time
}

// Supervisor sweeps the session set on a fixed interval.
type Supervisor struct {
	manager       *session.Manager
	interval      time.Duration
	healthTimeout time.Duration
	backoff       resilience.Backoff
	logger        *slog.Logger
	metrics       *telemetry.GatewayMetrics

	// restarts and lastState are touched only by the sweep goroutine.
	restarts  map[string]*restartState
	lastState map[string]session.State

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a supervisor over the session manager.
func New(manager *session.Manager, opts ...Option) *Supervisor {
	s := &Supervisor{
		manager:       manager,
		interval:      10 * time.Second,
		healthTimeout: 5 * time.Second,
		backoff:       resilience.DefaultBackoff(),
		logger:        slog.Default(),
		restarts:      make(map[string]*restartState),
		lastState:     make(map[string]session.State),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately; Stop or context
// cancellation ends the loop.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop ends the sweep loop and waits for the current sweep to finish.
func (s *Supervisor) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass over every session: observe transitions, ping the
// routable ones, restart the failed ones whose backoff has elapsed.
func (s *Supervisor) sweep(ctx context.Context) {
	for _, sess := range s.manager.Sessions() {
		name := sess.Descriptor().Name
		state := sess.State()
		s.observe(ctx, name, state)

		switch {
		case state == session.Closed:
			delete(s.restarts, name)
		case state == session.Failed:
			s.maybeRestart(ctx, sess)
		case state.Routable():
			delete(s.restarts, name)
			s.healthCheck(ctx, sess)
		}
	}
}

func (s *Supervisor) healthCheck(ctx context.Context, sess *session.Session) {
	hcCtx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()
	after := sess.HealthCheck(hcCtx)
	s.observe(ctx, sess.Descriptor().Name, after)
}

func (s *Supervisor) maybeRestart(ctx context.Context, sess *session.Session) {
	name := sess.Descriptor().Name
	rs, ok := s.restarts[name]
	if !ok {
		rs = &restartState{}
		s.restarts[name] = rs
	}
	now := time.Now()
	if now.Before(rs.next) {
		return
	}

	s.logger.InfoContext(ctx, "restarting failed session",
		"backend", name, "attempt", rs.attempts+1)
	err := sess.Start(ctx)
	s.metrics.RecordRestart(ctx, name, err == nil)
	if err != nil {
		rs.attempts++
		rs.next = now.Add(s.backoff.Delay(rs.attempts))
		s.logger.WarnContext(ctx, "session restart failed",
			"backend", name, "attempt", rs.attempts, "next_attempt", rs.next, "error", err)
		return
	}
	delete(s.restarts, name)
	s.observe(ctx, name, sess.State())
}

// observe logs state transitions since the last sweep and mirrors the
// state into the session gauge.
func (s *Supervisor) observe(ctx context.Context, name string, state session.State) {
	s.metrics.RecordSessionState(ctx, name, int64(state))
	prev, seen := s.lastState[name]
	if seen && prev == state {
		return
	}
	s.lastState[name] = state
	if seen {
		s.logger.InfoContext(ctx, "session state changed",
			"backend", name, "from", prev.String(), "to", state.String())
	}
}
