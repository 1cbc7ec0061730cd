// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package router maps an inbound request (capability + caller role) to
// exactly one eligible backend session. Selection is deterministic:
// lowest consecutive-failure counter first, manifest declaration order
// as the tie-break. This is a single-writer-per-capability model, not a
// load balancer.
package router

import (
	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/session"
)

// Request is one inbound call to route. Transient; exists only for the
// duration of one call.
type Request struct {
	Role       string
	Capability string
	Payload    map[string]any
}

// Decision is the routing outcome: a non-owning reference to the
// selected session.
type Decision struct {
	Session *session.Session
}

// SessionSource resolves backend names to live sessions. Implemented by
// the session manager.
type SessionSource interface {
	Session(name string) (*session.Session, bool)
}

// Router routes requests against a registry snapshot and live session
// states.
type Router struct {
	registry *registry.Store
	sessions SessionSource
}

// New creates a router over the registry store and session source.
func New(store *registry.Store, sessions SessionSource) *Router {
	return &Router{registry: store, sessions: sessions}
}

// Route selects the backend session for the request.
//
// Fails Unauthorized when the role has no reachable backend for the
// capability at all, and Unavailable when reachable backends exist but
// none is currently in a routable state.
func (r *Router) Route(req Request) (Decision, error) {
	snapshot := r.registry.Snapshot()
	return r.route(snapshot, req)
}

func (r *Router) route(snapshot *registry.Registry, req Request) (Decision, error) {
	eligible := snapshot.Eligible(req.Role, req.Capability)
	if len(eligible) == 0 {
		return Decision{}, gwerrors.Newf(gwerrors.KindUnauthorized,
			"role %q has no backend for capability %q", req.Role, req.Capability)
	}

	var best *session.Session
	bestFailures := 0
	for _, desc := range eligible {
		s, ok := r.sessions.Session(desc.Name)
		if !ok || !s.State().Routable() {
			continue
		}
		f := s.Failures()
		if best == nil || f < bestFailures {
			best = s
			bestFailures = f
		}
	}
	if best == nil {
		return Decision{}, gwerrors.Newf(gwerrors.KindUnavailable,
			"no backend available for capability %q", req.Capability)
	}
	return Decision{Session: best}, nil
}
