// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry loads and indexes the manifest of known backend
// servers. A Registry is immutable after load; reloads build a fresh
// Registry and swap it atomically through a Store so in-flight routing
// never observes a half-updated view.
package registry

import (
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
)

// Duration parses YAML durations given either as Go duration strings
// ("5s", "250ms") or as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Connection describes how the gateway reaches a backend: either a
// subprocess spawned by the gateway or a remote streamable-HTTP endpoint.
// Exactly one of the two styles must be set.
type Connection struct {
	// Subprocess style.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	WorkDir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`

	// Network style.
	URL string `yaml:"url"`
}

// IsSubprocess reports whether the connection spawns a child process.
func (c Connection) IsSubprocess() bool { return c.Command != "" }

// IsNetwork reports whether the connection dials a remote endpoint.
func (c Connection) IsNetwork() bool { return c.URL != "" }

func (c Connection) equal(o Connection) bool {
	if c.Command != o.Command || c.WorkDir != o.WorkDir || c.URL != o.URL {
		return false
	}
	if !slices.Equal(c.Args, o.Args) {
		return false
	}
	if len(c.Env) != len(o.Env) {
		return false
	}
	for k, v := range c.Env {
		if o.Env[k] != v {
			return false
		}
	}
	return true
}

// Descriptor is one backend server definition from the manifest.
// Immutable after load.
type Descriptor struct {
	Name         string     `yaml:"name"`
	Capabilities []string   `yaml:"capabilities"`
	Connection   Connection `yaml:"connection"`
	AllowedRoles []string   `yaml:"allowed_roles"`
	Multiplex    bool       `yaml:"multiplex"`
	CallTimeout  Duration   `yaml:"call_timeout"`
}

// HasCapability reports whether the descriptor declares the operation.
func (d *Descriptor) HasCapability(op string) bool {
	return slices.Contains(d.Capabilities, op)
}

// HasRole reports whether the role may invoke this backend.
func (d *Descriptor) HasRole(role string) bool {
	return slices.Contains(d.AllowedRoles, role)
}

// Equal reports whether two descriptors are identical. The session
// manager uses this to keep live sessions across a manifest reload when
// the backend definition did not change.
func (d *Descriptor) Equal(o *Descriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Name == o.Name &&
		slices.Equal(d.Capabilities, o.Capabilities) &&
		slices.Equal(d.AllowedRoles, o.AllowedRoles) &&
		d.Multiplex == o.Multiplex &&
		d.CallTimeout == o.CallTimeout &&
		d.Connection.equal(o.Connection)
}

func (d *Descriptor) validate(pos int) error {
	if d.Name == "" {
		return gwerrors.Newf(gwerrors.KindConfig, "manifest backend #%d: name is required", pos)
	}
	if len(d.Capabilities) == 0 {
		return gwerrors.Newf(gwerrors.KindConfig, "backend %q: at least one capability is required", d.Name)
	}
	for _, capability := range d.Capabilities {
		if capability == "" {
			return gwerrors.Newf(gwerrors.KindConfig, "backend %q: empty capability name", d.Name)
		}
	}
	if len(d.AllowedRoles) == 0 {
		return gwerrors.Newf(gwerrors.KindConfig, "backend %q: at least one allowed role is required", d.Name)
	}
	sub, net := d.Connection.IsSubprocess(), d.Connection.IsNetwork()
	if sub == net {
		return gwerrors.Newf(gwerrors.KindConfig,
			"backend %q: connection must set exactly one of command or url", d.Name)
	}
	if d.CallTimeout < 0 {
		return gwerrors.Newf(gwerrors.KindConfig, "backend %q: call_timeout must not be negative", d.Name)
	}
	return nil
}

// Reachable is one (backend, capability) pair a role may invoke.
type Reachable struct {
	Backend    string
	Capability string
}

type roleCapKey struct {
	role       string
	capability string
}

// Registry holds the validated backend descriptors in declaration order
// plus the precomputed (role, capability) routing index. Read-only after
// New; safe for concurrent use.
type Registry struct {
	descriptors []*Descriptor
	byName      map[string]*Descriptor
	index       map[roleCapKey][]*Descriptor
	loadedAt    time.Time
}

type manifest struct {
	Backends []*Descriptor `yaml:"backends"`
}

// Load reads and validates the manifest file, returning an immutable
// Registry. Any malformed descriptor fails the whole load.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindConfig, fmt.Sprintf("read manifest %q", path), err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, gwerrors.New(gwerrors.KindConfig, fmt.Sprintf("parse manifest %q", path), err)
	}
	return New(m.Backends)
}

// New validates the descriptors and builds the routing index.
func New(descriptors []*Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: descriptors,
		byName:      make(map[string]*Descriptor, len(descriptors)),
		index:       make(map[roleCapKey][]*Descriptor),
		loadedAt:    time.Now(),
	}
	for i, d := range descriptors {
		if err := d.validate(i); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, gwerrors.Newf(gwerrors.KindConfig, "duplicate backend name %q", d.Name)
		}
		r.byName[d.Name] = d
	}
	// Index preserves declaration order per (role, capability) so the
	// router's tie-break is deterministic.
	for _, d := range descriptors {
		for _, role := range d.AllowedRoles {
			for _, capability := range d.Capabilities {
				key := roleCapKey{role, capability}
				r.index[key] = append(r.index[key], d)
			}
		}
	}
	return r, nil
}

// Lookup returns the descriptor with the given name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.KindNotFound, "backend %q not in registry", name)
	}
	return d, nil
}

// Descriptors returns the descriptors in declaration order.
func (r *Registry) Descriptors() []*Descriptor {
	return r.descriptors
}

// Eligible returns, in declaration order, the backends the role may use
// for the capability. Empty means the role has no reachable backend for
// it, regardless of session health.
func (r *Registry) Eligible(role, capability string) []*Descriptor {
	return r.index[roleCapKey{role, capability}]
}

// CapabilitiesFor returns every (backend, capability) pair reachable by
// the role, in declaration order.
func (r *Registry) CapabilitiesFor(role string) []Reachable {
	var out []Reachable
	for _, d := range r.descriptors {
		if !d.HasRole(role) {
			continue
		}
		for _, capability := range d.Capabilities {
			out = append(out, Reachable{Backend: d.Name, Capability: capability})
		}
	}
	return out
}

// LoadedAt returns when this registry snapshot was built.
func (r *Registry) LoadedAt() time.Time { return r.loadedAt }

// Store hands out the active Registry snapshot and swaps in reloaded
// ones atomically.
type Store struct {
	current atomic.Pointer[Registry]
}

// NewStore creates a Store seeded with the given registry.
func NewStore(r *Registry) *Store {
	s := &Store{}
	s.current.Store(r)
	return s
}

// Snapshot returns the active registry. Callers keep routing against the
// snapshot they took even if a reload swaps the active one mid-request.
func (s *Store) Snapshot() *Registry {
	return s.current.Load()
}

// Swap atomically replaces the active registry.
func (s *Store) Swap(r *Registry) {
	s.current.Store(r)
}
