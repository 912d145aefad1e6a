package rpc_test

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
	"github.com/hyperpolymath/poly-db-lsp/internal/rpc/rpctest"
)

const helperEnv = "POLYDB_TEST_ENGINE"

// TestHelperProcess is not a real test. It serves the scripted engine over
// stdio when the test binary is re-executed by TestExecLauncher_RoundTrip.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	engine := rpctest.NewEngine()
	engine.Respond(rpc.MethodGetSchema, map[string]any{"tables": []string{"orders", "customers"}})
	engine.Serve(context.Background(), stdio{Reader: os.Stdin, Writer: os.Stdout})
	os.Exit(0)
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return os.Stdout.Close() }

func TestExecLauncher_RoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t)
	client := rpc.NewClient(rpc.Config{
		ExecutablePath: os.Args[0],
		Args:           []string{"-test.run=^TestHelperProcess$"},
		Env:            map[string]string{helperEnv: "1"},
	}, rpc.WithLauncher(rpc.ExecLauncher{Logger: logger}), rpc.WithLogger(logger))

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	schema, err := client.GetSchema(ctx)
	if err != nil {
		t.Fatalf("GetSchema failed: %v", err)
	}
	if !strings.Contains(string(schema.Raw), "customers") {
		t.Errorf("Unexpected schema %s", schema.Raw)
	}

	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if client.State() != rpc.StateStopped {
		t.Errorf("Expected state stopped, got %s", client.State())
	}
}

func TestExecLauncher_MissingExecutable(t *testing.T) {
	logger := zaptest.NewLogger(t)
	client := rpc.NewClient(rpc.Config{
		ExecutablePath: "/nonexistent/polydb-lsp",
	}, rpc.WithLauncher(rpc.ExecLauncher{Logger: logger}), rpc.WithLogger(logger))

	err := client.Start(context.Background())
	expectKind(t, err, rpc.KindStartup)
	if client.State() != rpc.StateStopped {
		t.Errorf("Expected state stopped, got %s", client.State())
	}
}
