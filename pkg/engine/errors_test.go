package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineErrorMessage(t *testing.T) {
	inner := errors.New("connection reset")

	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "bare",
			err:  NewTransientError("connection failed", inner),
			want: "[transient] connection failed: connection reset",
		},
		{
			name: "with stage",
			err:  NewTransientError("connection failed", inner).WithStage("grains"),
			want: "[transient] connection failed (stage=grains): connection reset",
		},
		{
			name: "with minion and stage",
			err: NewPermanentError("resolution failed", inner).
				WithMinion("web-01").WithStage("resolve"),
			want: "[permanent] resolution failed (minion=web-01, stage=resolve): connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngineErrorClassification(t *testing.T) {
	transient := NewTransientError("timeout", nil)
	blocked := NewBlockedError("blocked by policy", nil)
	permanent := NewPermanentError("bad config", nil)

	if !IsTransient(transient) || IsTransient(blocked) || IsTransient(permanent) {
		t.Error("IsTransient misclassified")
	}
	if !IsBlocked(blocked) || IsBlocked(transient) {
		t.Error("IsBlocked misclassified")
	}
	if !IsPermanent(permanent) || IsPermanent(transient) {
		t.Error("IsPermanent misclassified")
	}
	if !IsRetryable(transient) || IsRetryable(permanent) {
		t.Error("IsRetryable misclassified")
	}
}

func TestEngineErrorClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("reconcile web-01: %w",
		NewTransientError("connection failed", errors.New("reset")))

	if !IsTransient(err) {
		t.Error("classification must survive fmt.Errorf wrapping")
	}
	if IsBlocked(err) {
		t.Error("wrapped transient error misread as blocked")
	}
}

func TestEngineErrorIs(t *testing.T) {
	err := NewPermanentError("machine not found", nil).WithCode(ErrCodeNotFound)

	if !errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}) {
		t.Error("expected class+code match")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}) {
		t.Error("code mismatch must not match")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassTransient, Code: ErrCodeNotFound}) {
		t.Error("class mismatch must not match")
	}
}

func TestEngineErrorUnwrap(t *testing.T) {
	inner := errors.New("no such host")
	err := NewTransientError("connection failed", inner).WithCode(ErrCodeTransport)

	if !errors.Is(err, inner) {
		t.Error("expected the inner error to be reachable via Unwrap")
	}
}

func TestEngineErrorDetails(t *testing.T) {
	err := NewBlockedError("blocked by policy", nil).
		WithDetail("violations", []string{"offline install", "unpinned tool"}).
		WithDetail("count", 2)

	violations, ok := err.Details["violations"].([]string)
	if !ok || len(violations) != 2 {
		t.Fatalf("expected 2 violations in details, got %v", err.Details["violations"])
	}
	if err.Details["count"] != 2 {
		t.Errorf("expected count detail 2, got %v", err.Details["count"])
	}
	if err.Code != ErrCodePolicyBlocked {
		t.Errorf("blocked errors carry the policy code, got %q", err.Code)
	}
	if !strings.Contains(err.Error(), "blocked by policy") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
