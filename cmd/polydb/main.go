package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

var (
	// Version information - set during build
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rpc.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr, lookupEnv: os.LookupEnv}
	err := newRootCmd(a).ExecuteContext(ctx)
	if err == nil {
		return
	}

	var s *surfacedError
	if !errors.As(err, &s) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	stop()
	os.Exit(1)
}
