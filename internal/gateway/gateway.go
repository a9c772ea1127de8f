// Package gateway exposes a zkVM backend running in a container as a local
// Backend. Calls that fail because the server became unreachable are retried,
// relaunching the container when it is no longer running.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/image"
	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/rpc"
	"github.com/eth-act/ere/internal/session"
)

// MaxRetry is the number of retries after the initial attempt of a call.
const MaxRetry = 3

// ImageEnsurer makes sure a server image exists. *image.Builder implements it.
type ImageEnsurer interface {
	EnsureServerImage(ctx context.Context, kind model.BackendKind, res model.Resource) (image.Tags, error)
}

// Launcher opens server sessions. *session.Launcher implements it.
type Launcher interface {
	Open(ctx context.Context, kind model.BackendKind, res model.Resource, program model.SerializedProgram) (*session.Session, error)
	IsRunning(ctx context.Context, name string) (bool, error)
}

// Options configures a Gateway.
type Options struct {
	Kind     model.BackendKind
	Resource model.Resource
	Program  model.SerializedProgram
	Images   ImageEnsurer
	Launcher Launcher
	Logger   *slog.Logger
}

// Gateway forwards backend calls to a server container.
type Gateway struct {
	kind     model.BackendKind
	resource model.Resource
	program  model.SerializedProgram
	launcher Launcher
	logger   *slog.Logger

	// mu guards the session slot. It is never held during a network call.
	mu     sync.RWMutex
	sess   *session.Session
	closed bool

	// recoverMu serializes relaunches.
	recoverMu sync.Mutex
}

var _ backend.Backend = (*Gateway)(nil)

// New ensures the server image exists and opens the first session.
func New(ctx context.Context, opts Options) (*Gateway, error) {
	logger := opts.Logger.With("backend", opts.Kind.String())

	if _, err := opts.Images.EnsureServerImage(ctx, opts.Kind, opts.Resource); err != nil {
		return nil, fmt.Errorf("ensure %s server image: %w", opts.Kind, err)
	}

	sess, err := opts.Launcher.Open(ctx, opts.Kind, opts.Resource, opts.Program)
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w", opts.Kind, err)
	}

	return &Gateway{
		kind:     opts.Kind,
		resource: opts.Resource,
		program:  opts.Program,
		launcher: opts.Launcher,
		logger:   logger,
		sess:     sess,
	}, nil
}

// Kind returns the backend kind this gateway serves.
func (g *Gateway) Kind() model.BackendKind { return g.kind }

// Resource returns the compute resource the server is launched with.
func (g *Gateway) Resource() model.Resource { return g.resource }

// Program returns the program handed to every server this gateway launches.
func (g *Gateway) Program() model.SerializedProgram { return g.program }

// Name returns the backend name reported by the server.
func (g *Gateway) Name() string {
	if s, err := g.session(); err == nil && s.Info.Name != "" {
		return s.Info.Name
	}
	return g.kind.String()
}

// SDKVersion returns the SDK version reported by the server.
func (g *Gateway) SDKVersion() string {
	if s, err := g.session(); err == nil {
		return s.Info.SDKVersion
	}
	return ""
}

// Execute runs the program on input.
func (g *Gateway) Execute(ctx context.Context, input model.Input) (model.PublicValues, model.ExecutionReport, error) {
	var (
		pv     model.PublicValues
		report model.ExecutionReport
	)
	err := g.call(ctx, rpc.MethodExecute, func(c *rpc.Client) error {
		var err error
		pv, report, err = c.Execute(ctx, input)
		return err
	})
	return pv, report, err
}

// Prove proves the program on input.
func (g *Gateway) Prove(ctx context.Context, input model.Input, kind model.ProofKind) (model.PublicValues, model.Proof, model.ProvingReport, error) {
	var (
		pv     model.PublicValues
		proof  model.Proof
		report model.ProvingReport
	)
	err := g.call(ctx, rpc.MethodProve, func(c *rpc.Client) error {
		var err error
		pv, proof, report, err = c.Prove(ctx, input, kind)
		return err
	})
	return pv, proof, report, err
}

// Verify verifies proof.
func (g *Gateway) Verify(ctx context.Context, proof model.Proof) (model.PublicValues, error) {
	var pv model.PublicValues
	err := g.call(ctx, rpc.MethodVerify, func(c *rpc.Client) error {
		var err error
		pv, err = c.Verify(ctx, proof)
		return err
	})
	return pv, err
}

// Close stops the server container. Calls made after Close return
// ErrClosed.
func (g *Gateway) Close(ctx context.Context) {
	g.recoverMu.Lock()
	defer g.recoverMu.Unlock()

	g.mu.Lock()
	sess := g.sess
	g.sess = nil
	g.closed = true
	g.mu.Unlock()

	if sess != nil {
		sess.Close(ctx)
	}
}

func (g *Gateway) session() (*session.Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return nil, ErrClosed
	}
	return g.sess, nil
}

// call runs op against the current session. Connectivity failures are
// retried up to MaxRetry times; every other outcome is returned at once.
func (g *Gateway) call(ctx context.Context, method string, op func(*rpc.Client) error) (err error) {
	start := time.Now()
	defer func() {
		outcome := outcomeOk
		if err != nil {
			outcome = string(Classify(err))
		}
		callsTotal.WithLabelValues(g.kind.String(), method, outcome).Inc()
		callDuration.WithLabelValues(g.kind.String(), method).Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		sess, err := g.session()
		if err != nil {
			return err
		}

		err = op(sess.Client)
		if err == nil || !rpc.IsConnectivity(err) || ctx.Err() != nil {
			return err
		}
		if attempt > MaxRetry {
			g.logger.Error("call failed after retries", "method", method, "attempts", attempt, "error", err)
			return err
		}

		g.logger.Warn("connectivity failure, retrying", "method", method, "attempt", attempt, "container", sess.Name, "error", err)
		retriesTotal.WithLabelValues(g.kind.String()).Inc()
		if err := g.recover(ctx, sess); err != nil {
			return err
		}
	}
}

// recover replaces failed with a fresh session if its container is gone.
// A slot already swapped by another caller is left alone.
func (g *Gateway) recover(ctx context.Context, failed *session.Session) error {
	g.recoverMu.Lock()
	defer g.recoverMu.Unlock()

	current, err := g.session()
	if err != nil {
		return err
	}
	if current != failed {
		return nil
	}

	running, err := g.launcher.IsRunning(ctx, failed.Name)
	if err != nil {
		g.logger.Warn("liveness check failed, assuming container is gone", "container", failed.Name, "error", err)
	}
	if running {
		return nil
	}

	g.logger.Warn("container is not running, relaunching", "container", failed.Name)
	failed.Close(ctx)

	fresh, err := g.launcher.Open(ctx, g.kind, g.resource, g.program)
	if err != nil {
		g.logger.Error("relaunch failed", "container", failed.Name, "error", err)
		return fmt.Errorf("relaunch %s server: %w", g.kind, err)
	}
	recreationsTotal.WithLabelValues(g.kind.String()).Inc()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		fresh.Close(ctx)
		return ErrClosed
	}
	g.sess = fresh
	g.mu.Unlock()
	return nil
}
