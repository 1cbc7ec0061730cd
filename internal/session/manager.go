// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
)

// TransportFactory builds the transport for a descriptor. Tests inject
// fakes here; production uses NewMCPTransport.
type TransportFactory func(desc *registry.Descriptor) Transport

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTransportFactory overrides how transports are built.
func WithTransportFactory(f TransportFactory) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.factory = f
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSessionOptions sets the options applied to every session the
// manager creates.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.sessionOpts = opts
	}
}

// WithCloseGrace sets how long CloseAll waits per transport before
// abandoning a graceful shutdown.
func WithCloseGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.closeGrace = d
		}
	}
}

// Manager owns one session per registry descriptor. It creates them at
// startup, reconciles them on manifest reload, and closes them all on
// shutdown.
type Manager struct {
	factory     TransportFactory
	logger      *slog.Logger
	sessionOpts []Option
	closeGrace  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	closed   bool
}

// NewManager creates sessions for every descriptor in the registry.
// All sessions begin Uninitialized; call StartAll to bring them up.
func NewManager(reg *registry.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory:    NewMCPTransport,
		logger:     slog.Default(),
		closeGrace: 10 * time.Second,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, desc := range reg.Descriptors() {
		m.sessions[desc.Name] = New(desc, m.factory(desc), m.sessionOpts...)
		m.order = append(m.order, desc.Name)
	}
	return m
}

// Session returns the live session for a backend name.
func (m *Manager) Session(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Sessions returns all sessions in registry declaration order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.sessions[name])
	}
	return out
}

// StartAll starts every session in parallel. A backend that fails to
// start is left Failed for the supervisor to retry; only context
// cancellation aborts the whole startup.
func (m *Manager) StartAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.Sessions() {
		s := s
		g.Go(func() error {
			if err := s.Start(gctx); err != nil {
				m.logger.Warn("backend failed to start",
					"backend", s.Descriptor().Name, "error", err)
			}
			return gctx.Err()
		})
	}
	return g.Wait()
}

// Reconcile aligns the session set with a reloaded registry. Sessions
// whose descriptor is unchanged are kept; changed ones are replaced and
// started; removed ones are closed. In-flight calls on a replaced
// session receive cancellation.
func (m *Manager) Reconcile(ctx context.Context, reg *registry.Registry) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var toClose, toStart []*Session

	next := make(map[string]*Session, len(reg.Descriptors()))
	order := make([]string, 0, len(reg.Descriptors()))
	for _, desc := range reg.Descriptors() {
		order = append(order, desc.Name)
		if existing, ok := m.sessions[desc.Name]; ok && existing.Descriptor().Equal(desc) {
			next[desc.Name] = existing
			continue
		}
		if existing, ok := m.sessions[desc.Name]; ok {
			toClose = append(toClose, existing)
		}
		fresh := New(desc, m.factory(desc), m.sessionOpts...)
		next[desc.Name] = fresh
		toStart = append(toStart, fresh)
	}
	for name, s := range m.sessions {
		if _, kept := next[name]; !kept {
			toClose = append(toClose, s)
		}
	}

	m.sessions = next
	m.order = order
	m.mu.Unlock()

	for _, s := range toClose {
		m.logger.Info("closing session after manifest reload", "backend", s.Descriptor().Name)
		if err := s.Close(m.closeGrace); err != nil {
			m.logger.Warn("session close failed", "backend", s.Descriptor().Name, "error", err)
		}
	}
	for _, s := range toStart {
		if err := s.Start(ctx); err != nil {
			m.logger.Warn("backend failed to start after reload",
				"backend", s.Descriptor().Name, "error", err)
		}
	}
}

// CloseAll closes every session, cancelling in-flight calls. Safe to
// call more than once.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.order))
	for _, name := range m.order {
		sessions = append(sessions, m.sessions[name])
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(m.closeGrace); err != nil {
				m.logger.Warn("session close failed",
					"backend", s.Descriptor().Name, "error", err)
			}
		}(s)
	}
	wg.Wait()
}
