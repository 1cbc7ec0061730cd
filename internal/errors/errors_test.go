// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	e := New(KindTransport, "connection reset", stderrors.New("EOF"))
	want := "[TRANSPORT_ERROR] connection reset: EOF"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	e = Newf(KindUnauthorized, "role %q may not call %q", "guest", "read_file")
	want = `[UNAUTHORIZED] role "guest" may not call "read_file"`
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("broken pipe")
	e := New(KindTransport, "send failed", cause)
	if !stderrors.Is(e, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindUnauthorized, http.StatusForbidden},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindTransport, http.StatusBadGateway},
		{KindProtocol, http.StatusBadGateway},
		{KindCancelled, http.StatusBadGateway},
		{KindNotFound, http.StatusNotFound},
		{KindConfig, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := (&Error{Kind: tc.kind}).HTTPStatus(); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(New(KindTimeout, "deadline", nil)); got != KindTimeout {
		t.Errorf("KindOf = %s, want %s", got, KindTimeout)
	}
	wrapped := fmt.Errorf("dispatch: %w", New(KindUnavailable, "no backend", nil))
	if got := KindOf(wrapped); got != KindUnavailable {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, KindUnavailable)
	}
	if got := KindOf(stderrors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s, want %s", got, KindInternal)
	}
}

func TestIsKind(t *testing.T) {
	e := New(KindProtocol, "bad payload", nil)
	if !IsKind(e, KindProtocol) {
		t.Error("expected IsKind to match")
	}
	if IsKind(e, KindTimeout) {
		t.Error("expected IsKind mismatch")
	}
	if IsKind(nil, KindTimeout) {
		t.Error("expected IsKind(nil) to be false")
	}
}

func TestWrapPreservesKind(t *testing.T) {
	orig := New(KindUnavailable, "no backend", nil)
	wrapped := Wrap(fmt.Errorf("outer: %w", orig), "dispatch failed")
	if wrapped.Kind != KindUnavailable {
		t.Errorf("Wrap changed kind to %s", wrapped.Kind)
	}
	plain := Wrap(stderrors.New("boom"), "dispatch failed")
	if plain.Kind != KindInternal {
		t.Errorf("Wrap(plain) kind = %s, want %s", plain.Kind, KindInternal)
	}
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(KindTransport, "connection reset", stderrors.New("EOF")).WithBackend("fs")
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["kind"] != "TRANSPORT_ERROR" || out["backend"] != "fs" {
		t.Errorf("unexpected JSON: %s", raw)
	}
}

func TestRetryable(t *testing.T) {
	for _, kind := range []Kind{KindUnavailable, KindTimeout, KindTransport} {
		if !(&Error{Kind: kind}).Retryable() {
			t.Errorf("%s should be retryable", kind)
		}
	}
	for _, kind := range []Kind{KindUnauthorized, KindProtocol, KindConfig} {
		if (&Error{Kind: kind}).Retryable() {
			t.Errorf("%s should not be retryable", kind)
		}
	}
}
