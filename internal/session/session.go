// Package session launches backend server containers and hands out
// ready-to-use RPC clients for them.
//
// A session owns one container. Open only returns once the server inside
// answers its health route; Close stops the container and never fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/eth-act/ere/internal/image"
	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/rpc"
	"github.com/eth-act/ere/internal/runner"
)

const (
	DefaultPortOffset     = 4174
	DefaultHealthTimeout  = 5 * time.Minute
	DefaultHealthInterval = 500 * time.Millisecond

	healthCheckTimeout = 2 * time.Second
	stopTimeout        = 30 * time.Second
)

var (
	// ErrConnectionTimeout means the server never became healthy within the
	// health timeout.
	ErrConnectionTimeout = errors.New("server did not become healthy in time")
	// ErrExited means the container exited before becoming healthy.
	ErrExited = errors.New("server container exited")
)

// LaunchError reports a container that could not be brought up.
type LaunchError struct {
	Container string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Container, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ImageNamer resolves the server image of a backend. *image.Builder
// implements it.
type ImageNamer interface {
	ServerTags(kind model.BackendKind, res model.Resource) image.Tags
}

// Options configures a Launcher. Zero values select the defaults.
type Options struct {
	// Host is used to reach published ports.
	Host           string
	PortOffset     int
	GPUDevices     string
	Network        string
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	// HomeDir anchors home-relative mounts. Empty disables them.
	HomeDir string
	// TempDir is the parent of scratch dirs. Empty uses os.TempDir.
	TempDir    string
	LookupEnv  func(string) (string, bool)
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.PortOffset == 0 {
		o.PortOffset = DefaultPortOffset
	}
	if o.GPUDevices == "" {
		o.GPUDevices = "all"
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = DefaultHealthTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.LookupEnv == nil {
		o.LookupEnv = os.LookupEnv
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// Launcher opens sessions through a container runner.
type Launcher struct {
	runner runner.Runner
	images ImageNamer
	opts   Options
	logger *slog.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(r runner.Runner, images ImageNamer, opts Options, logger *slog.Logger) *Launcher {
	return &Launcher{runner: r, images: images, opts: opts.withDefaults(), logger: logger}
}

// Port returns the published port of kind's server.
func (l *Launcher) Port(kind model.BackendKind) int {
	return l.opts.PortOffset + int(kind)
}

// IsRunning reports whether the named container is running.
func (l *Launcher) IsRunning(ctx context.Context, name string) (bool, error) {
	return l.runner.IsRunning(ctx, name)
}

// Session is a running server container with a healthy RPC client.
type Session struct {
	ID       string
	Kind     model.BackendKind
	Name     string
	Port     int
	Endpoint string
	Client   *rpc.Client
	Info     rpc.Info

	proc     *runner.Process
	scratch  string
	launcher *Launcher
	once     sync.Once
}

// Exited is closed when the container client process exits.
func (s *Session) Exited() <-chan struct{} {
	return s.proc.Done()
}

// Close stops the container and removes the scratch dir. Failures are
// logged. Close is idempotent.
func (s *Session) Close(ctx context.Context) {
	s.once.Do(func() {
		l := s.launcher
		l.teardown(ctx, s.Name, s.scratch)
		sessionsActive.WithLabelValues(s.Kind.String()).Dec()
		l.logger.Info("session closed", "backend", s.Kind.String(), "container", s.Name, "session_id", s.ID)
	})
}

// Open starts a server container for program and waits until it is healthy.
func (l *Launcher) Open(ctx context.Context, kind model.BackendKind, res model.Resource, program model.SerializedProgram) (*Session, error) {
	start := time.Now()
	backendLabel := kind.String()

	sess, err := l.open(ctx, kind, res, program)
	if err != nil {
		sessionLaunchFailures.WithLabelValues(backendLabel).Inc()
		return nil, err
	}

	sessionOpenSeconds.WithLabelValues(backendLabel).Observe(time.Since(start).Seconds())
	sessionsActive.WithLabelValues(backendLabel).Inc()
	l.logger.Info("session opened",
		"backend", backendLabel,
		"container", sess.Name,
		"endpoint", sess.Endpoint,
		"session_id", sess.ID,
		"sdk_version", sess.Info.SDKVersion,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sess, nil
}

func (l *Launcher) open(ctx context.Context, kind model.BackendKind, res model.Resource, program model.SerializedProgram) (*Session, error) {
	name := ContainerName(kind, l.Port(kind))

	if err := res.Validate(); err != nil {
		return nil, &LaunchError{Container: name, Err: err}
	}

	l.stopStale(ctx, name)

	var scratch string
	if kind.Profile().ScratchMount {
		dir, err := os.MkdirTemp(l.opts.TempDir, "ere-"+kind.String()+"-")
		if err != nil {
			return nil, &LaunchError{Container: name, Err: fmt.Errorf("create scratch dir: %w", err)}
		}
		scratch = dir
	}

	ln := l.assemble(kind, res, l.images.ServerTags(kind, res).Server, scratch)
	l.logger.Debug("spawning server container", "backend", kind.String(), "container", ln.name, "image", ln.run.Image)

	proc, err := l.runner.Spawn(ctx, ln.run, program)
	if err != nil {
		// The container may exist even though delivering the program failed.
		l.teardown(ctx, ln.name, scratch)
		return nil, &LaunchError{Container: ln.name, Err: err}
	}

	endpoint := "http://" + l.opts.Host + ":" + strconv.Itoa(ln.port)
	client := rpc.NewClient(endpoint, l.opts.HTTPClient)

	if err := l.waitHealthy(ctx, client, proc, ln.name); err != nil {
		l.teardown(ctx, ln.name, scratch)
		return nil, err
	}

	info, err := client.Info(ctx)
	if err != nil {
		l.logger.Warn("fetch server info failed", "container", ln.name, "error", err)
		info = rpc.Info{Name: kind.String()}
	}

	return &Session{
		ID:       model.NewID(),
		Kind:     kind,
		Name:     ln.name,
		Port:     ln.port,
		Endpoint: endpoint,
		Client:   client,
		Info:     info,
		proc:     proc,
		scratch:  scratch,
		launcher: l,
	}, nil
}

// waitHealthy polls the health route until it answers, the process exits,
// or the health timeout passes.
func (l *Launcher) waitHealthy(ctx context.Context, client *rpc.Client, proc *runner.Process, name string) error {
	deadline := time.NewTimer(l.opts.HealthTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.opts.HealthInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := client.Health(checkCtx)
		cancel()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return &LaunchError{Container: name, Err: ctx.Err()}
		case <-proc.Done():
			if exitErr := proc.Err(); exitErr != nil {
				return &LaunchError{Container: name, Err: fmt.Errorf("%w: %w", ErrExited, exitErr)}
			}
			return &LaunchError{Container: name, Err: ErrExited}
		case <-deadline.C:
			return &LaunchError{Container: name, Err: fmt.Errorf("%w after %s: %w", ErrConnectionTimeout, l.opts.HealthTimeout, err)}
		case <-ticker.C:
		}
	}
}

func (l *Launcher) stopStale(ctx context.Context, name string) {
	running, err := l.runner.IsRunning(ctx, name)
	if err != nil {
		l.logger.Warn("check for stale container failed", "container", name, "error", err)
		return
	}
	if !running {
		return
	}
	l.logger.Warn("stopping stale container", "container", name)
	if err := l.runner.Stop(ctx, name); err != nil {
		l.logger.Warn("stop stale container failed", "container", name, "error", err)
	}
}

// teardown stops the container and removes scratch. It runs even when ctx
// is already canceled.
func (l *Launcher) teardown(ctx context.Context, name, scratch string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := l.runner.Stop(stopCtx, name); err != nil {
		l.logger.Warn("stop container failed", "container", name, "error", err)
	}
	l.removeScratch(scratch)
}

func (l *Launcher) removeScratch(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		l.logger.Warn("remove scratch dir failed", "dir", dir, "error", err)
	}
}
