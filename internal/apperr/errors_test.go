package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := PermissionDenied("user %s cannot edit message %d", "u-1", 4)
	wrapped := fmt.Errorf("edit message: %w", err)

	if !errors.Is(wrapped, ErrPermissionDenied) {
		t.Fatalf("expected %v to match ErrPermissionDenied", wrapped)
	}
	if errors.Is(wrapped, ErrInvalidReference) {
		t.Fatal("did not expect match against ErrInvalidReference")
	}
	if got := KindOf(wrapped); got != KindPermissionDenied {
		t.Fatalf("KindOf() = %q, want %q", got, KindPermissionDenied)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindStoreUnavailable, cause, "append message")

	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if !err.Retryable() {
		t.Fatal("expected store errors to be retryable")
	}
	if MalformedInput("empty route").Retryable() {
		t.Fatal("malformed input must not be retryable")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Fatalf("KindOf() = %q, want empty", got)
	}
}
