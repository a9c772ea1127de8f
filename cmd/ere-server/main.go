// ere-server runs inside a backend container. It reads the compiled program
// from stdin, binds it to the backend-native executable and serves the RPC
// protocol until it receives SIGINT or SIGTERM.
//
// Usage: ere-server --port 4181 cpu
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/backend/process"
	"github.com/eth-act/ere/internal/cli"
	"github.com/eth-act/ere/internal/config"
	"github.com/eth-act/ere/internal/model"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	cmd, err := cli.ParseServer("ere-server", os.Args[1:])
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	// The executable defaults to ERE_BACKEND_BIN, then /usr/local/bin/ere-<kind>.
	reg := backend.NewRegistry()
	for _, kind := range model.AllKinds() {
		reg.Register(kind, process.Factory(kind, process.Options{Logger: logger}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Serve(ctx, os.Stdin, reg, logger); err != nil {
		logger.Error("ere-server failed", "error", err)
		os.Exit(1)
	}
}
