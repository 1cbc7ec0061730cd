// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
)

// Transport is one live connection to a backend. Implementations hide
// whether the backend is a spawned subprocess or a remote endpoint; the
// session, router, and dispatcher depend only on this interface.
type Transport interface {
	// Start establishes the connection and performs the handshake.
	// Restartable: a failed or closed transport may be started again,
	// which builds a fresh underlying connection.
	Start(ctx context.Context) error

	// Ping checks that the backend is responsive.
	Ping(ctx context.Context) error

	// Call invokes one operation and returns the backend's response body
	// as neutral JSON.
	Call(ctx context.Context, operation string, payload map[string]any) (json.RawMessage, error)

	// Close releases the connection. For subprocess backends this
	// terminates the child process.
	Close() error
}

const clientName = "enterprise-mcp-gateway"

// mcpTransport connects to an MCP server with mark3labs/mcp-go, over
// stdio for subprocess backends or streamable HTTP for network backends.
type mcpTransport struct {
	desc *registry.Descriptor

	mu  sync.Mutex
	cli client.MCPClient
}

// NewMCPTransport builds the transport described by the descriptor's
// connection spec. No connection is made until Start.
func NewMCPTransport(desc *registry.Descriptor) Transport {
	return &mcpTransport{desc: desc}
}

func (t *mcpTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Tear down any residual connection from a failed incarnation.
	if t.cli != nil {
		_ = t.cli.Close()
		t.cli = nil
	}

	cli, err := t.connect()
	if err != nil {
		return gwerrors.New(gwerrors.KindTransport, "establish transport", err).WithBackend(t.desc.Name)
	}

	if err := cli.Start(ctx); err != nil {
		_ = cli.Close()
		return gwerrors.New(gwerrors.KindTransport, "start transport", err).WithBackend(t.desc.Name)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: "0.1.0",
	}
	if _, err := cli.Initialize(ctx, initRequest); err != nil {
		_ = cli.Close()
		return gwerrors.New(gwerrors.KindTransport, "initialize handshake", err).WithBackend(t.desc.Name)
	}

	t.cli = cli
	return nil
}

func (t *mcpTransport) connect() (*client.Client, error) {
	conn := t.desc.Connection
	switch {
	case conn.IsSubprocess():
		env := make([]string, 0, len(conn.Env))
		for k, v := range conn.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		if conn.WorkDir != "" {
			return client.NewStdioMCPClientWithOptions(conn.Command, env, conn.Args,
				transport.WithCommandFunc(func(ctx context.Context, command string, cmdEnv []string, args []string) (*exec.Cmd, error) {
					cmd := exec.CommandContext(ctx, command, args...)
					cmd.Env = append(os.Environ(), cmdEnv...)
					cmd.Dir = conn.WorkDir
					return cmd, nil
				}))
		}
		return client.NewStdioMCPClient(conn.Command, env, conn.Args...)
	case conn.IsNetwork():
		return client.NewStreamableHttpClient(conn.URL)
	default:
		return nil, fmt.Errorf("descriptor %q has no connection spec", t.desc.Name)
	}
}

func (t *mcpTransport) Ping(ctx context.Context) error {
	cli := t.current()
	if cli == nil {
		return gwerrors.Newf(gwerrors.KindTransport, "transport not started").WithBackend(t.desc.Name)
	}
	if err := cli.Ping(ctx); err != nil {
		return gwerrors.New(gwerrors.KindTransport, "ping", err).WithBackend(t.desc.Name)
	}
	return nil
}

func (t *mcpTransport) Call(ctx context.Context, operation string, payload map[string]any) (json.RawMessage, error) {
	cli := t.current()
	if cli == nil {
		return nil, gwerrors.Newf(gwerrors.KindTransport, "transport not started").WithBackend(t.desc.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = operation
	req.Params.Arguments = payload

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return nil, callToolError(t.desc.Name, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindProtocol, "encode backend response", err).WithBackend(t.desc.Name)
	}
	return raw, nil
}

// callToolError marks responses the client library could not decode as
// protocol errors; the backend answered, the payload is the defect.
// Everything else passes through for the session to classify.
func callToolError(backend string, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return gwerrors.New(gwerrors.KindProtocol, "malformed backend response", err).WithBackend(backend)
	}
	return err
}

func (t *mcpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cli == nil {
		return nil
	}
	err := t.cli.Close()
	t.cli = nil
	return err
}

func (t *mcpTransport) current() client.MCPClient {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cli
}

var _ Transport = (*mcpTransport)(nil)

// startupTimeout bounds Start when the caller did not already set a
// deadline on the context.
func withStartupTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
