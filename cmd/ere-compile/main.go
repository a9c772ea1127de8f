// ere-compile compiles a guest program with a backend's compiler image and
// writes the serialized program to a file, ready for ered's gateways file.
//
// Usage: ere-compile --backend sp1 --mount-dir . -o fib.bin ./guests/fib
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eth-act/ere/internal/cli"
	"github.com/eth-act/ere/internal/config"
	"github.com/eth-act/ere/internal/image"
	"github.com/eth-act/ere/internal/runner"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	cmd, err := cli.ParseCompile("ere-compile", os.Args[1:])
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	docker := runner.NewDocker(cfg.DockerBin, os.Stderr, logger)
	builder := image.NewBuilder(docker, image.Options{
		Registry:     cfg.ImageRegistry,
		Version:      cfg.ImageVersion,
		WorkspaceDir: cfg.WorkspaceDir,
		ForceRebuild: cfg.ForceRebuild,
		BuildArgs:    cfg.BuildArgs,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, builder, docker, logger); err != nil {
		logger.Error("ere-compile failed", "error", err)
		os.Exit(1)
	}
}
