// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/session"
)

type stubTransport struct {
	startErr error
	callErr  error
}

func (t *stubTransport) Start(context.Context) error { return t.startErr }
func (t *stubTransport) Ping(context.Context) error  { return nil }
func (t *stubTransport) Call(context.Context, string, map[string]any) (json.RawMessage, error) {
	if t.callErr != nil {
		return nil, t.callErr
	}
	return json.RawMessage(`{}`), nil
}
func (t *stubTransport) Close() error { return nil }

type mapSource map[string]*session.Session

func (m mapSource) Session(name string) (*session.Session, bool) {
	s, ok := m[name]
	return s, ok
}

func desc(name string, capabilities, roles []string) *registry.Descriptor {
	return &registry.Descriptor{
		Name:         name,
		Capabilities: capabilities,
		Connection:   registry.Connection{Command: "/bin/true"},
		AllowedRoles: roles,
	}
}

// readySession starts a session over a healthy stub transport.
func readySession(t *testing.T, d *registry.Descriptor, opts ...session.Option) *session.Session {
	t.Helper()
	s := session.New(d, &stubTransport{}, opts...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

// failedSession starts a session whose transport refuses to come up.
func failedSession(t *testing.T, d *registry.Descriptor) *session.Session {
	t.Helper()
	s := session.New(d, &stubTransport{startErr: errors.New("spawn failed")})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}
	return s
}

func newStore(t *testing.T, descriptors ...*registry.Descriptor) *registry.Store {
	t.Helper()
	reg, err := registry.New(descriptors)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry.NewStore(reg)
}

func TestRouteUnauthorizedBeforeUnavailable(t *testing.T) {
	fs := desc("fs", []string{"read_file"}, []string{"admin"})
	store := newStore(t, fs)

	// Backend session is dead, but the guest is rejected for lack of
	// reachability, not for the session state.
	r := New(store, mapSource{"fs": failedSession(t, fs)})

	_, err := r.Route(Request{Role: "guest", Capability: "read_file"})
	if !gwerrors.IsKind(err, gwerrors.KindUnauthorized) {
		t.Fatalf("guest: want Unauthorized, got %v", err)
	}

	_, err = r.Route(Request{Role: "admin", Capability: "read_file"})
	if !gwerrors.IsKind(err, gwerrors.KindUnavailable) {
		t.Fatalf("admin with failed session: want Unavailable, got %v", err)
	}
}

func TestRouteSelectsReadySession(t *testing.T) {
	fs := desc("fs", []string{"read_file", "write_file"}, []string{"admin"})
	store := newStore(t, fs)
	s := readySession(t, fs)
	r := New(store, mapSource{"fs": s})

	dec, err := r.Route(Request{Role: "admin", Capability: "read_file"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.Session != s {
		t.Fatalf("routed to wrong session: %v", dec.Session.Descriptor().Name)
	}
}

func TestRouteUnknownCapability(t *testing.T) {
	fs := desc("fs", []string{"read_file"}, []string{"admin"})
	store := newStore(t, fs)
	r := New(store, mapSource{"fs": readySession(t, fs)})

	_, err := r.Route(Request{Role: "admin", Capability: "launch_rockets"})
	if !gwerrors.IsKind(err, gwerrors.KindUnauthorized) {
		t.Fatalf("want Unauthorized for unknown capability, got %v", err)
	}
}

func TestRoutePrefersLowestFailureCount(t *testing.T) {
	a := desc("a", []string{"search"}, []string{"analyst"})
	b := desc("b", []string{"search"}, []string{"analyst"})
	store := newStore(t, a, b)

	// Session a accumulates failures but stays routable under a high
	// threshold; b stays clean.
	flaky := &stubTransport{}
	sa := session.New(a, flaky, session.WithFailureThreshold(10))
	if err := sa.Start(context.Background()); err != nil {
		t.Fatalf("start a: %v", err)
	}
	flaky.callErr = errors.New("backend hiccup")
	for i := 0; i < 2; i++ {
		if _, err := sa.Call(context.Background(), "search", nil); err == nil {
			t.Fatal("expected call failure")
		}
	}
	sb := readySession(t, b)

	r := New(store, mapSource{"a": sa, "b": sb})
	dec, err := r.Route(Request{Role: "analyst", Capability: "search"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.Session != sb {
		t.Fatalf("want backend b (0 failures), got %s", dec.Session.Descriptor().Name)
	}
}

func TestRouteTieBreaksByDeclarationOrder(t *testing.T) {
	a := desc("a", []string{"search"}, []string{"analyst"})
	b := desc("b", []string{"search"}, []string{"analyst"})
	store := newStore(t, a, b)
	sa := readySession(t, a)
	sb := readySession(t, b)
	r := New(store, mapSource{"a": sa, "b": sb})

	for i := 0; i < 5; i++ {
		dec, err := r.Route(Request{Role: "analyst", Capability: "search"})
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if dec.Session != sa {
			t.Fatalf("tie must resolve to first declared backend, got %s",
				dec.Session.Descriptor().Name)
		}
	}
}

func TestRouteSkipsNonRoutableSessions(t *testing.T) {
	a := desc("a", []string{"search"}, []string{"analyst"})
	b := desc("b", []string{"search"}, []string{"analyst"})
	store := newStore(t, a, b)
	sa := failedSession(t, a)
	sb := readySession(t, b)
	r := New(store, mapSource{"a": sa, "b": sb})

	dec, err := r.Route(Request{Role: "analyst", Capability: "search"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.Session != sb {
		t.Fatalf("want healthy backend b, got %s", dec.Session.Descriptor().Name)
	}
}

func TestRouteMissingSessionTreatedUnavailable(t *testing.T) {
	a := desc("a", []string{"search"}, []string{"analyst"})
	store := newStore(t, a)
	r := New(store, mapSource{}) // manager knows nothing about "a"

	_, err := r.Route(Request{Role: "analyst", Capability: "search"})
	if !gwerrors.IsKind(err, gwerrors.KindUnavailable) {
		t.Fatalf("want Unavailable, got %v", err)
	}
}

// TestRouteRandomizedRegistry cross-checks Route against a brute-force
// oracle over randomly generated manifests and session states.
func TestRouteRandomizedRegistry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	roles := []string{"admin", "analyst", "guest"}
	capabilities := []string{"read_file", "write_file", "search", "fetch"}

	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(5)
		descriptors := make([]*registry.Descriptor, 0, n)
		sessions := mapSource{}
		routable := make(map[string]bool)
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("backend-%d-%d", trial, i)
			d := desc(name,
				[]string{capabilities[rng.Intn(len(capabilities))]},
				[]string{roles[rng.Intn(len(roles))]})
			descriptors = append(descriptors, d)
			if rng.Intn(2) == 0 {
				sessions[name] = readySession(t, d)
				routable[name] = true
			} else {
				sessions[name] = failedSession(t, d)
			}
		}
		reg, err := registry.New(descriptors)
		if err != nil {
			t.Fatalf("trial %d: registry: %v", trial, err)
		}
		r := New(registry.NewStore(reg), sessions)

		role := roles[rng.Intn(len(roles))]
		capability := capabilities[rng.Intn(len(capabilities))]

		// Oracle: first declared descriptor matching role+capability with
		// a routable session. All sessions here have zero failures, so
		// declaration order decides.
		var wantName string
		reachable := false
		for _, d := range descriptors {
			if !d.HasRole(role) || !d.HasCapability(capability) {
				continue
			}
			reachable = true
			if wantName == "" && routable[d.Name] {
				wantName = d.Name
			}
		}

		dec, err := r.Route(Request{Role: role, Capability: capability})
		switch {
		case !reachable:
			if !gwerrors.IsKind(err, gwerrors.KindUnauthorized) {
				t.Fatalf("trial %d: want Unauthorized, got %v", trial, err)
			}
		case wantName == "":
			if !gwerrors.IsKind(err, gwerrors.KindUnavailable) {
				t.Fatalf("trial %d: want Unavailable, got %v", trial, err)
			}
		default:
			if err != nil {
				t.Fatalf("trial %d: route: %v", trial, err)
			}
			if got := dec.Session.Descriptor().Name; got != wantName {
				t.Fatalf("trial %d: want %s, got %s", trial, wantName, got)
			}
		}
	}
}
