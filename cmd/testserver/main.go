// testserver is a backend server bound to the echo backend for every kind.
// It accepts the same arguments as ere-server and backs the e2e tests.
// Usage: echo -n prog | go run ./cmd/testserver --backend sp1 --port 4181 cpu
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/cli"
	"github.com/eth-act/ere/internal/config"
	"github.com/eth-act/ere/internal/model"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	cmd, err := cli.ParseServer("testserver", os.Args[1:])
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	reg := backend.NewRegistry()
	for _, kind := range model.AllKinds() {
		reg.Register(kind, backend.NewEcho)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Serve(ctx, os.Stdin, reg, logger); err != nil {
		logger.Error("testserver failed", "error", err)
		os.Exit(1)
	}
}
