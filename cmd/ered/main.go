// ered hosts a pool of backend gateways behind the daemon HTTP API. The
// gateways are listed in the YAML file named by ERE_GATEWAYS_FILE.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eth-act/ere/internal/api"
	"github.com/eth-act/ere/internal/config"
	"github.com/eth-act/ere/internal/engine"
	"github.com/eth-act/ere/internal/gateway"
	"github.com/eth-act/ere/internal/image"
	"github.com/eth-act/ere/internal/runner"
	"github.com/eth-act/ere/internal/session"
	"github.com/eth-act/ere/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("ered: starting",
		"version", config.Version,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"gateways_file", cfg.GatewaysFile,
	)

	entries, err := config.LoadGateways(cfg.GatewaysFile)
	if err != nil {
		log.Fatalf("failed to load gateways: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	docker := runner.NewDocker(cfg.DockerBin, os.Stderr, logger)
	builder := image.NewBuilder(docker, image.Options{
		Registry:     cfg.ImageRegistry,
		Version:      cfg.ImageVersion,
		WorkspaceDir: cfg.WorkspaceDir,
		ForceRebuild: cfg.ForceRebuild,
		BuildArgs:    cfg.BuildArgs,
		Archs:        image.ArchResolver(cfg.CUDAArchs, image.DetectComputeCaps, logger),
	}, logger)
	home, _ := os.UserHomeDir()
	launcher := session.NewLauncher(docker, builder, session.Options{
		Host:          cfg.ServerHost,
		PortOffset:    cfg.PortOffset,
		GPUDevices:    cfg.GPUDevices,
		Network:       cfg.DockerNetwork,
		HealthTimeout: cfg.HealthTimeout,
		HomeDir:       home,
	}, logger)

	opts := make([]gateway.Options, 0, len(entries))
	for _, e := range entries {
		program, err := e.ReadProgram()
		if err != nil {
			log.Fatalf("failed to load program: %v", err)
		}
		opts = append(opts, gateway.Options{
			Kind:     e.Backend,
			Resource: e.Resource,
			Program:  program,
			Images:   builder,
			Launcher: launcher,
			Logger:   logger,
		})
	}

	// The signal context also interrupts image builds and health waits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := gateway.StartPool(ctx, opts)
	if err != nil {
		log.Fatalf("failed to start gateways: %v", err)
	}

	eng := engine.NewEngine(db, pool, logger)
	srv := api.NewServer(cfg.ListenAddr, db, pool, eng, logger)

	runErr := srv.Run(ctx)

	// Closing the pool fails in-flight jobs with a closed-gateway error.
	pool.Close(context.Background())
	eng.Wait()

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
