package agent

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestToolErrorTypeRetryable(t *testing.T) {
	retryable := map[ToolErrorType]bool{
		ToolErrorTimeout:      true,
		ToolErrorNetwork:      true,
		ToolErrorNotFound:     false,
		ToolErrorInvalidInput: false,
		ToolErrorPermission:   false,
		ToolErrorPolicy:       false,
		ToolErrorExecution:    false,
		ToolErrorPanic:        false,
		ToolErrorUnknown:      false,
	}
	for typ, want := range retryable {
		if got := typ.IsRetryable(); got != want {
			t.Errorf("%s.IsRetryable() = %v, want %v", typ, got, want)
		}
	}
}

func TestClassifyToolError(t *testing.T) {
	cases := []struct {
		err  error
		want ToolErrorType
	}{
		{fmt.Errorf("wrapped: %w", ErrToolNotFound), ToolErrorNotFound},
		{fmt.Errorf("wrapped: %w", ErrToolTimeout), ToolErrorTimeout},
		{fmt.Errorf("wrapped: %w", ErrToolPanic), ToolErrorPanic},
		{errors.New("context deadline exceeded"), ToolErrorTimeout},
		{errors.New("connection refused"), ToolErrorNetwork},
		{errors.New("permission denied"), ToolErrorPermission},
		{errors.New("invalid parameter: path"), ToolErrorInvalidInput},
		{errors.New("something broke"), ToolErrorExecution},
		{nil, ToolErrorUnknown},
	}
	for _, tc := range cases {
		if got := classifyToolError(tc.err); got != tc.want {
			t.Errorf("classifyToolError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestNewToolErrorBuilders(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewToolError("shell", cause).
		WithToolCallID("call_1").
		WithAttempts(3)

	if err.Type != ToolErrorNetwork {
		t.Errorf("type = %s, want network", err.Type)
	}
	if !err.Retryable {
		t.Error("network errors should be retryable")
	}
	if err.ToolCallID != "call_1" {
		t.Errorf("tool call ID = %q", err.ToolCallID)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should reach the cause")
	}
	if !strings.Contains(err.Error(), "shell") || !strings.Contains(err.Error(), "attempts=3") {
		t.Errorf("unexpected message: %q", err.Error())
	}

	err = err.WithType(ToolErrorPolicy)
	if err.Retryable {
		t.Error("WithType should refresh retryable status")
	}
}

func TestGetToolError(t *testing.T) {
	inner := NewToolError("glob", errors.New("boom"))
	wrapped := fmt.Errorf("outer: %w", inner)

	got, ok := GetToolError(wrapped)
	if !ok || got.ToolName != "glob" {
		t.Fatalf("GetToolError = %+v, %v", got, ok)
	}
	if IsToolRetryable(wrapped) {
		t.Error("execution errors are not retryable")
	}
	if _, ok := GetToolError(errors.New("plain")); ok {
		t.Error("plain errors should not match")
	}
}

func TestTurnErrorUnwrap(t *testing.T) {
	err := &TurnError{Phase: PhaseStream, Turn: 2, Cause: ErrLoopDetected}
	if !errors.Is(err, ErrLoopDetected) {
		t.Error("TurnError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "stream") || !strings.Contains(err.Error(), "turn 2") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
