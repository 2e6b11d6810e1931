package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/auth"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "permission", err: apperr.PermissionDenied("nope"), status: http.StatusForbidden, code: "PERMISSION_DENIED"},
		{name: "reference", err: apperr.InvalidReference("op 9"), status: http.StatusNotFound, code: "INVALID_REFERENCE"},
		{name: "conflict", err: apperr.Conflict("taken"), status: http.StatusConflict, code: "CONFLICT"},
		{name: "malformed", err: apperr.MalformedInput("bad"), status: http.StatusUnprocessableEntity, code: "MALFORMED_INPUT"},
		{name: "store", err: apperr.Wrap(apperr.KindStoreUnavailable, errors.New("dial tcp"), "store unavailable"), status: http.StatusServiceUnavailable, code: "STORE_UNAVAILABLE"},
		{name: "wrapped", err: fmt.Errorf("post: %w", apperr.PermissionDenied("nope")), status: http.StatusForbidden, code: "PERMISSION_DENIED"},
		{name: "token", err: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("mapError() = %d %s, want %d %s", status, code, tt.status, tt.code)
			}
		})
	}
}

func TestWireErrorHidesInternalDetail(t *testing.T) {
	got := toWireError(errors.New("pq: password authentication failed"))
	if got.Message != "Server error" {
		t.Fatalf("expected generic message, got %q", got.Message)
	}

	got = toWireError(apperr.Wrap(apperr.KindStoreUnavailable, errors.New("timeout"), "store unavailable"))
	if !got.Retryable {
		t.Fatalf("expected store errors to be retryable")
	}
}
