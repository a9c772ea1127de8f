package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is the release version. It doubles as the default image tag.
const Version = "0.1.0"

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = ":memory:"
	defaultGatewaysFile  = "ere.yaml"
	defaultWorkspaceDir  = "."
	defaultGPUDevices    = "all"
	defaultDockerBin     = "docker"
	defaultServerHost    = "127.0.0.1"
	defaultPortOffset    = 4174
	defaultHealthTimeout = 5 * time.Minute

	envListenAddr    = "ERE_LISTEN_ADDR"
	envDBPath        = "ERE_DB_PATH"
	envGatewaysFile  = "ERE_GATEWAYS_FILE"
	envLogLevel      = "ERE_LOG_LEVEL"
	envRegistry      = "ERE_IMAGE_REGISTRY"
	envForceRebuild  = "ERE_FORCE_REBUILD_DOCKER_IMAGE"
	envImageVersion  = "ERE_IMAGE_VERSION"
	envWorkspaceDir  = "ERE_WORKSPACE_DIR"
	envBuildArgEnv   = "ERE_BUILD_ARG_ENV"
	envCUDAArchs     = "CUDA_ARCHS"
	envGPUDevices    = "ERE_GPU_DEVICES"
	envDockerNetwork = "ERE_DOCKER_NETWORK"
	envDockerBin     = "ERE_DOCKER_BIN"
	envServerHost    = "ERE_SERVER_HOST"
	envPortOffset    = "ERE_PORT_OFFSET"
	envHealthTimeout = "ERE_HEALTH_TIMEOUT"
)

// defaultBuildArgEnv lists the environment variables forwarded to image
// builds when ERE_BUILD_ARG_ENV is unset.
var defaultBuildArgEnv = []string{"RUSTFLAGS", "CARGO_BUILD_JOBS"}

// Config holds application configuration loaded from environment variables.
type Config struct {
	LogLevel slog.Level

	// Daemon.
	ListenAddr   string
	DBPath       string
	GatewaysFile string

	// Image builds.
	ImageRegistry string
	ForceRebuild  bool
	ImageVersion  string
	WorkspaceDir  string
	BuildArgs     map[string]string
	CUDAArchs     string

	// Container launches.
	GPUDevices    string
	DockerNetwork string
	DockerBin     string
	ServerHost    string
	PortOffset    int
	HealthTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		LogLevel:      slog.LevelInfo,
		ListenAddr:    defaultListenAddr,
		DBPath:        defaultDBPath,
		GatewaysFile:  defaultGatewaysFile,
		ImageVersion:  Version,
		WorkspaceDir:  defaultWorkspaceDir,
		GPUDevices:    defaultGPUDevices,
		DockerBin:     defaultDockerBin,
		ServerHost:    defaultServerHost,
		PortOffset:    defaultPortOffset,
		HealthTimeout: defaultHealthTimeout,
	}

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envGatewaysFile); v != "" {
		cfg.GatewaysFile = v
	}

	cfg.ImageRegistry = strings.TrimSuffix(os.Getenv(envRegistry), "/")
	// Any value, including an empty one, forces a rebuild.
	_, cfg.ForceRebuild = os.LookupEnv(envForceRebuild)
	if v := os.Getenv(envImageVersion); v != "" {
		cfg.ImageVersion = v
	}
	if v := os.Getenv(envWorkspaceDir); v != "" {
		cfg.WorkspaceDir = v
	}
	names := defaultBuildArgEnv
	if v, ok := os.LookupEnv(envBuildArgEnv); ok {
		names = splitList(v)
	}
	cfg.BuildArgs = resolveEnv(names)
	cfg.CUDAArchs = os.Getenv(envCUDAArchs)

	if v := os.Getenv(envGPUDevices); v != "" {
		cfg.GPUDevices = v
	}
	cfg.DockerNetwork = os.Getenv(envDockerNetwork)
	if v := os.Getenv(envDockerBin); v != "" {
		cfg.DockerBin = v
	}
	if v := os.Getenv(envServerHost); v != "" {
		cfg.ServerHost = v
	}
	if v := os.Getenv(envPortOffset); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cfg.PortOffset = n
		}
	}
	if v := os.Getenv(envHealthTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HealthTimeout = d
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveEnv returns the set variables among names.
func resolveEnv(names []string) map[string]string {
	vals := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			vals[name] = v
		}
	}
	return vals
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
