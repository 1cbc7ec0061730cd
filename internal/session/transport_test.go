// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gwerrors "github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/errors"
	"github.com/Fisseha-Estifanos/enterprise-mcp-gateway/internal/registry"
)

// A workdir descriptor takes the custom-command path through the stdio
// client. The child must still receive the configured args as argv, the
// configured env on top of the parent environment (PATH included, hence
// the bare "sh"), and the workdir as its cwd.
func TestSubprocessWorkDirAndEnv(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	desc := &registry.Descriptor{
		Name:         "stub",
		Capabilities: []string{"op"},
		AllowedRoles: []string{"admin"},
		Connection: registry.Connection{
			Command: "sh",
			Args:    []string{"-c", `touch "marker-$GATEWAY_MARK" && exec sleep 30`},
			WorkDir: dir,
			Env:     map[string]string{"GATEWAY_MARK": "ok"},
		},
	}

	tr := NewMCPTransport(desc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()
	defer tr.Close()

	marker := filepath.Join(dir, "marker-ok")
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subprocess never ran with the configured args, env and workdir")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The stub child speaks no MCP, so the handshake cannot complete.
	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected handshake failure against the stub subprocess")
	}
}

func TestCallToolErrorClassification(t *testing.T) {
	decodeErr := fmt.Errorf("unmarshal response: %w", &json.SyntaxError{Offset: 3})
	err := callToolError("fs", decodeErr)
	var gwErr *gwerrors.Error
	if !stderrors.As(err, &gwErr) || gwErr.Kind != gwerrors.KindProtocol {
		t.Fatalf("syntax error classified as %v, want protocol error", err)
	}
	if gwErr.Backend != "fs" {
		t.Fatalf("Backend = %q, want %q", gwErr.Backend, "fs")
	}

	typeErr := fmt.Errorf("decode: %w", &json.UnmarshalTypeError{Value: "string", Field: "result"})
	if err := callToolError("fs", typeErr); !stderrors.As(err, &gwErr) || gwErr.Kind != gwerrors.KindProtocol {
		t.Fatalf("type error classified as %v, want protocol error", err)
	}

	plain := stderrors.New("connection reset")
	if got := callToolError("fs", plain); got != plain {
		t.Fatalf("transport error rewritten to %v, want passthrough", got)
	}
}
