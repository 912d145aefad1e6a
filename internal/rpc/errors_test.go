package rpc_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind rpc.Kind
		want string
	}{
		{rpc.KindConfiguration, "configuration error"},
		{rpc.KindValidation, "validation error"},
		{rpc.KindStartup, "startup error"},
		{rpc.KindTransport, "transport error"},
		{rpc.KindRemote, "remote error"},
		{rpc.Kind(0), "unknown error"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := map[rpc.State]string{
		rpc.StateStopped:  "stopped",
		rpc.StateStarting: "starting",
		rpc.StateRunning:  "running",
		rpc.StateStopping: "stopping",
		rpc.State(42):     "unknown",
	}

	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestError_Wrapping(t *testing.T) {
	cause := errors.New("broken pipe")
	err := &rpc.Error{Kind: rpc.KindTransport, Op: rpc.OpGetSchema, Message: "write failed", Err: cause}

	if err.Error() != "getSchema: write failed" {
		t.Errorf("Unexpected error text %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to unwrap to its cause")
	}

	wrapped := fmt.Errorf("schema command: %w", err)
	if rpc.KindOf(wrapped) != rpc.KindTransport {
		t.Errorf("Expected KindOf to see through wrapping, got %s", rpc.KindOf(wrapped))
	}
	if rpc.Describe(wrapped) != "write failed" {
		t.Errorf("Expected Describe to return the message, got %q", rpc.Describe(wrapped))
	}
}

func TestKindOf_ForeignError(t *testing.T) {
	err := errors.New("plain")

	if rpc.KindOf(err) != 0 {
		t.Errorf("Expected zero kind for foreign error, got %s", rpc.KindOf(err))
	}
	if rpc.Describe(err) != "plain" {
		t.Errorf("Expected Describe to fall back to Error(), got %q", rpc.Describe(err))
	}
}

func TestInvalid(t *testing.T) {
	err := rpc.Invalid(rpc.OpConnect, "port must be between 1 and 65535, got %d", 0)

	if err.Kind != rpc.KindValidation {
		t.Errorf("Expected validation kind, got %s", err.Kind)
	}
	if err.Unwrap() != nil {
		t.Errorf("Expected no cause, got %v", err.Unwrap())
	}
	if err.Message != "port must be between 1 and 65535, got 0" {
		t.Errorf("Unexpected message %q", err.Message)
	}
}
