package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("loading dashboard: %w", &Error{Kind: KindUnauthorized, Op: "GetOverview", StatusCode: 401})

	if !errors.Is(err, ErrUnauthorized) {
		t.Error("expected wrapped error to match ErrUnauthorized")
	}
	if errors.Is(err, ErrNetworkFailure) {
		t.Error("unauthorized must not match network failure")
	}
	if KindOf(err) != KindUnauthorized {
		t.Errorf("KindOf = %v", KindOf(err))
	}
}

func TestKindOfUnclassifiedIsNetwork(t *testing.T) {
	for _, err := range []error{errors.New("boom"), context.Canceled, context.DeadlineExceeded} {
		if KindOf(err) != KindNetworkFailure {
			t.Errorf("KindOf(%v) = %v, want network failure", err, KindOf(err))
		}
	}
}

func TestNetworkErrorKeepsClassification(t *testing.T) {
	inner := NewError(KindUnauthorized, "Token", errors.New("expired"))
	if got := networkError("GetOverview", fmt.Errorf("transport: %w", inner)); !errors.Is(got, ErrUnauthorized) {
		t.Errorf("expected classification to survive, got %v", got)
	}

	timeout := networkError("GetOverview", context.DeadlineExceeded)
	var e *Error
	if !errors.As(timeout, &e) || e.Detail != "timeout" {
		t.Errorf("expected timeout detail, got %v", timeout)
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Error("cause should stay reachable through Unwrap")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindInvalidInput, Op: "AddRepository", StatusCode: 400, Detail: "Invalid GitHub URL"}
	msg := err.Error()
	for _, want := range []string{"AddRepository", "invalid input", "status 400", "Invalid GitHub URL"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
