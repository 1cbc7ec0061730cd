// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the lifecycle of live backend connections. Each
// Session binds one registry descriptor to one exclusively-owned
// Transport and drives it through the state machine
//
//	Uninitialized -> Starting -> Ready <-> Degraded -> Failed -> (restart)
//	any non-closed state -> Closed
//
// Calls to a session are serialized by default; descriptors may opt into
// multiplexed access when the transport correlates responses itself.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
)

// State is the lifecycle state of a backend session.
type State int32

const (
	Uninitialized State = iota
	Starting
	Ready
	Degraded
	Failed
	Closed
)

// String implements fmt.Stringer for logging and metrics.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Routable reports whether the router may send calls to a session in
// this state.
func (s State) Routable() bool {
	return s == Ready || s == Degraded
}

// TransitionHook observes state transitions for logging and metrics.
type TransitionHook func(backend string, from, to State)

// Option configures a Session.
type Option func(*Session)

// WithFailureThreshold sets the consecutive-failure count at which the
// session fails.
func WithFailureThreshold(n int) Option {
	return func(s *Session) {
		if n >= 1 {
			s.failureThreshold = int32(n)
		}
	}
}

// WithStaleness sets the idle duration after which a call triggers a
// health check before being dispatched.
func WithStaleness(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.staleness = d
		}
	}
}

// WithStartupTimeout bounds transport establishment and handshake.
func WithStartupTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.startupTimeout = d
		}
	}
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithTransitionHook registers a hook observing every state transition.
func WithTransitionHook(hook TransitionHook) Option {
	return func(s *Session) {
		s.hook = hook
	}
}

// Session is the runtime handle bound to one backend descriptor. The
// transport is owned exclusively by the session; no other component
// touches it.
type Session struct {
	desc      *registry.Descriptor
	transport Transport
	logger    *slog.Logger
	hook      TransitionHook

	failureThreshold int32
	staleness        time.Duration
	startupTimeout   time.Duration

	state      atomic.Int32
	failures   atomic.Int32
	lastHealth atomic.Int64 // unix nanos of last successful health check or call

	// callMu serializes calls on transports that are not multiplex-safe.
	callMu sync.Mutex
	// lifeMu serializes start/close against each other.
	lifeMu sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New creates a session in the Uninitialized state.
func New(desc *registry.Descriptor, transport Transport, opts ...Option) *Session {
	s := &Session{
		desc:             desc,
		transport:        transport,
		logger:           slog.Default(),
		failureThreshold: 3,
		staleness:        60 * time.Second,
		startupTimeout:   15 * time.Second,
		closeCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptor returns the backend definition this session serves.
func (s *Session) Descriptor() *registry.Descriptor { return s.desc }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Failures returns the consecutive-failure counter.
func (s *Session) Failures() int { return int(s.failures.Load()) }

// LastHealthCheck returns the time of the last successful health check
// or call, zero if none yet.
func (s *Session) LastHealthCheck() time.Time {
	n := s.lastHealth.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Info("session state changed",
		"backend", s.desc.Name, "from", from.String(), "to", to.String())
	if s.hook != nil {
		s.hook(s.desc.Name, from, to)
	}
}

// Start establishes the transport and performs the handshake. Valid from
// Uninitialized and Failed; restarting tears down any residual transport
// first. Returns a transport error on handshake timeout or process exit.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch st := s.State(); st {
	case Uninitialized, Failed:
	case Closed:
		return gwerrors.Newf(gwerrors.KindCancelled, "session closed").WithBackend(s.desc.Name)
	default:
		return gwerrors.Newf(gwerrors.KindInternal, "start from state %s", st).WithBackend(s.desc.Name)
	}

	s.setState(Starting)

	startCtx, cancel := withStartupTimeout(ctx, s.startupTimeout)
	defer cancel()

	if err := s.transport.Start(startCtx); err != nil {
		s.setState(Failed)
		return gwerrors.New(gwerrors.KindTransport, "session startup", err).WithBackend(s.desc.Name)
	}

	s.failures.Store(0)
	s.lastHealth.Store(time.Now().UnixNano())
	s.setState(Ready)
	return nil
}

// HealthCheck pings the backend and adjusts the session state. Invoked
// periodically by the supervisor and lazily before routing when the
// session has been idle beyond the staleness threshold.
func (s *Session) HealthCheck(ctx context.Context) State {
	st := s.State()
	if !st.Routable() {
		return st
	}

	if err := s.transport.Ping(ctx); err != nil {
		s.recordFailure()
		return s.State()
	}

	s.lastHealth.Store(time.Now().UnixNano())
	if s.State() == Degraded {
		s.setState(Ready)
	}
	return s.State()
}

// Call sends one operation to the backend. Failures increment the
// consecutive-failure counter; success resets it to zero. Access is
// serialized unless the descriptor opted into multiplexing.
func (s *Session) Call(ctx context.Context, operation string, payload map[string]any) (json.RawMessage, error) {
	st := s.State()
	switch {
	case st == Closed:
		return nil, gwerrors.Newf(gwerrors.KindCancelled, "session closed").WithBackend(s.desc.Name)
	case !st.Routable():
		return nil, gwerrors.Newf(gwerrors.KindUnavailable, "session is %s", st).WithBackend(s.desc.Name)
	}

	if s.stale() {
		if st := s.HealthCheck(ctx); !st.Routable() {
			return nil, gwerrors.Newf(gwerrors.KindUnavailable, "session is %s", st).WithBackend(s.desc.Name)
		}
	}

	if !s.desc.Multiplex {
		s.callMu.Lock()
		defer s.callMu.Unlock()
	}

	// Session shutdown cancels in-flight calls.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-stop:
		}
	}()

	raw, err := s.transport.Call(callCtx, operation, payload)
	if err != nil {
		classified := s.classify(ctx, err)
		if classified.Kind != gwerrors.KindCancelled {
			s.recordFailure()
		}
		return nil, classified
	}

	s.failures.Store(0)
	s.lastHealth.Store(time.Now().UnixNano())
	if s.State() == Degraded {
		s.setState(Ready)
	}
	return raw, nil
}

// classify translates a raw transport error into the gateway vocabulary.
func (s *Session) classify(callerCtx context.Context, err error) *gwerrors.Error {
	select {
	case <-s.closeCh:
		return gwerrors.New(gwerrors.KindCancelled, "gateway shutting down", err).WithBackend(s.desc.Name)
	default:
	}
	if ge := gwerrors.AsError(err); ge != nil {
		return ge
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return gwerrors.New(gwerrors.KindTimeout, "call timed out", err).WithBackend(s.desc.Name)
	case stderrors.Is(err, context.Canceled):
		if callerCtx.Err() != nil {
			return gwerrors.New(gwerrors.KindCancelled, "call cancelled", err).WithBackend(s.desc.Name)
		}
		return gwerrors.New(gwerrors.KindTransport, "call aborted", err).WithBackend(s.desc.Name)
	default:
		return gwerrors.New(gwerrors.KindTransport, "backend call failed", err).WithBackend(s.desc.Name)
	}
}

func (s *Session) recordFailure() {
	n := s.failures.Add(1)
	if n >= s.failureThreshold {
		if st := s.State(); st.Routable() || st == Starting {
			s.setState(Failed)
		}
		return
	}
	if s.State() == Ready {
		s.setState(Degraded)
	}
}

func (s *Session) stale() bool {
	if s.staleness <= 0 {
		return false
	}
	last := s.lastHealth.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > s.staleness
}

// Close releases the transport and cancels in-flight calls. Terminal:
// a closed session is never restarted; the manager creates a fresh one
// instead. The grace period bounds how long Close waits for the
// transport to shut down before abandoning it.
func (s *Session) Close(grace time.Duration) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.State() == Closed {
		return nil
	}

	s.closeOnce.Do(func() { close(s.closeCh) })
	s.setState(Closed)

	done := make(chan error, 1)
	go func() { done <- s.transport.Close() }()

	if grace <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		return gwerrors.Newf(gwerrors.KindTransport, "transport close exceeded grace period").WithBackend(s.desc.Name)
	}
}
