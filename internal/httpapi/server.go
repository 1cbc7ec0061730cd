// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the gateway over HTTP: the /invoke dispatch
// endpoint plus read-only views of the registry, session states and the
// invocation history.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/proxy"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/router"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/session"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/store"
)

// InvocationReader reads the persisted invocation history. Nil when the
// store is disabled.
type InvocationReader interface {
	List(ctx context.Context, filter store.Filter) ([]store.Invocation, error)
	Summary(ctx context.Context) ([]store.Usage, error)
}

// SessionSource resolves backend names to live sessions.
type SessionSource interface {
	Session(name string) (*session.Session, bool)
}

// Server holds the HTTP handler dependencies.
type Server struct {
	dispatcher  *proxy.Dispatcher
	registry    *registry.Store
	sessions    SessionSource
	invocations InvocationReader
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithInvocationReader enables the /invocations and /usage endpoints.
func WithInvocationReader(r InvocationReader) Option {
	return func(s *Server) { s.invocations = r }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the HTTP boundary over the dispatcher and registry.
func NewServer(dispatcher *proxy.Dispatcher, reg *registry.Store, sessions SessionSource, opts ...Option) *Server {
	s := &Server{
		dispatcher: dispatcher,
		registry:   reg,
		sessions:   sessions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with logging and panic recovery
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("GET /backends", s.handleBackends)
	mux.HandleFunc("GET /capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /invocations", s.handleInvocations)
	mux.HandleFunc("GET /usage", s.handleUsage)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return chainMiddleware(mux,
		recoverMiddleware(s.logger),
		loggerMiddleware(s.logger),
	)
}

type invokeRequest struct {
	Role       string         `json:"role"`
	Capability string         `json:"capability"`
	Payload    map[string]any `json:"payload"`
}

type invokeResponse struct {
	InvocationID string          `json:"invocation_id"`
	Backend      string          `json:"backend"`
	DurationMS   int64           `json:"duration_ms"`
	Result       json.RawMessage `json:"result"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Role == "" || req.Capability == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "role and capability are required")
		return
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), router.Request{
		Role:       req.Role,
		Capability: req.Capability,
		Payload:    req.Payload,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invokeResponse{
		InvocationID: resp.InvocationID,
		Backend:      resp.Backend,
		DurationMS:   resp.Duration.Milliseconds(),
		Result:       resp.Result,
	})
}

type backendView struct {
	Name            string   `json:"name"`
	Capabilities    []string `json:"capabilities"`
	AllowedRoles    []string `json:"allowed_roles"`
	Transport       string   `json:"transport"`
	State           string   `json:"state"`
	Failures        int      `json:"failures"`
	LastHealthCheck string   `json:"last_health_check,omitempty"`
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()
	descriptors := snapshot.Descriptors()
	views := make([]backendView, 0, len(descriptors))
	for _, desc := range descriptors {
		view := backendView{
			Name:         desc.Name,
			Capabilities: desc.Capabilities,
			AllowedRoles: desc.AllowedRoles,
			Transport:    transportKind(desc),
			State:        session.Uninitialized.String(),
		}
		if sess, ok := s.sessions.Session(desc.Name); ok {
			view.State = sess.State().String()
			view.Failures = sess.Failures()
			if last := sess.LastHealthCheck(); !last.IsZero() {
				view.LastHealthCheck = last.UTC().Format(time.RFC3339)
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"manifest_loaded_at": snapshot.LoadedAt().UTC().Format(time.RFC3339),
		"backends":           views,
	})
}

func transportKind(desc *registry.Descriptor) string {
	if desc.Connection.IsNetwork() {
		return "http"
	}
	return "stdio"
}

// handleCapabilities lists the (backend, capability) pairs reachable by
// a role, straight from the precomputed routing index.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "role query parameter is required")
		return
	}
	reachable := s.registry.Snapshot().CapabilitiesFor(role)
	views := make([]map[string]string, 0, len(reachable))
	for _, rc := range reachable {
		views = append(views, map[string]string{
			"backend":    rc.Backend,
			"capability": rc.Capability,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "capabilities": views})
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		writeError(w, http.StatusNotFound, string(gwerrors.KindNotFound), "invocation store is disabled")
		return
	}
	filter := store.Filter{
		Role:    r.URL.Query().Get("role"),
		Backend: r.URL.Query().Get("backend"),
		Outcome: r.URL.Query().Get("outcome"),
		Limit:   100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	invocations, err := s.invocations.List(r.Context(), filter)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list invocations", "error", err)
		writeError(w, http.StatusInternalServerError, string(gwerrors.KindInternal), "failed to list invocations")
		return
	}
	if invocations == nil {
		invocations = []store.Invocation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": invocations})
}

// handleUsage serves the per-backend invocation and error rollup.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		writeError(w, http.StatusNotFound, string(gwerrors.KindNotFound), "invocation store is disabled")
		return
	}
	usage, err := s.invocations.Summary(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to summarize usage", "error", err)
		writeError(w, http.StatusInternalServerError, string(gwerrors.KindInternal), "failed to summarize usage")
		return
	}
	if usage == nil {
		usage = []store.Usage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": usage})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// writeGatewayError maps the typed gateway error onto an HTTP status.
// Raw backend error text never reaches the client.
func writeGatewayError(w http.ResponseWriter, err error) {
	var gwErr *gwerrors.Error
	if errors.As(err, &gwErr) {
		writeError(w, gwErr.HTTPStatus(), string(gwErr.Kind), gwErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, string(gwerrors.KindInternal), "internal error")
}
