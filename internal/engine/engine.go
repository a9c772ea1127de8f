package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/gateway"
	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/store"
)

// Resolver finds the backend serving a kind. *gateway.Pool implements it.
type Resolver interface {
	Resolve(kind model.BackendKind) (backend.Backend, error)
}

// Engine orchestrates asynchronous job execution.
type Engine struct {
	store    store.Store
	resolver Resolver
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewEngine creates a new job engine.
func NewEngine(s store.Store, r Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		resolver: r,
		logger:   logger,
	}
}

// Submit stores j as pending and runs it in a goroutine on input. The
// goroutine operates on a copy of the job to avoid data races with the
// caller.
func (e *Engine) Submit(ctx context.Context, j *model.Job, input model.Input) error {
	if err := e.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	jCopy := *j
	e.wg.Go(func() {
		e.run(&jCopy, input)
	})

	return nil
}

// Wait blocks until all in-flight jobs complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// run drives the job lifecycle: pending→running→completed/failed.
func (e *Engine) run(j *model.Job, input model.Input) {
	ctx := context.Background()

	if err := e.store.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "job_id", j.ID, "error", err)
		e.finishFailed(j, nil, fmt.Errorf("failed to start: %w", err))
		return
	}
	start := time.Now().UTC()

	kind, err := model.ParseBackendKind(j.Backend)
	if err != nil {
		e.finishFailed(j, &start, err)
		return
	}
	b, err := e.resolver.Resolve(kind)
	if err != nil {
		e.finishFailed(j, &start, err)
		return
	}

	e.logger.Info("job started", "job_id", j.ID, "backend", j.Backend, "method", j.Method)

	switch j.Method {
	case model.MethodExecute:
		pv, report, err := b.Execute(ctx, input)
		if err != nil {
			e.finishFailed(j, &start, err)
			return
		}
		j.PublicValues = pv
		j.Report = model.EncodeExecutionReport(report)
	case model.MethodProve:
		pk, err := model.ParseProofKind(j.ProofKind)
		if err != nil {
			e.finishFailed(j, &start, err)
			return
		}
		pv, proof, report, err := b.Prove(ctx, input, pk)
		if err != nil {
			e.finishFailed(j, &start, err)
			return
		}
		j.PublicValues = pv
		j.Proof = proof.Bytes
		j.Report = model.EncodeProvingReport(report)
	default:
		e.finishFailed(j, &start, fmt.Errorf("unknown method %q", j.Method))
		return
	}

	now := time.Now().UTC()
	dur := int(now.Sub(start).Milliseconds())
	j.Status = model.StatusCompleted
	j.DurationMS = &dur
	j.StartedAt = &start
	j.FinishedAt = &now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update completed job", "job_id", j.ID, "error", err)
		return
	}
	e.logger.Info("job completed", "job_id", j.ID, "backend", j.Backend, "duration_ms", dur)
}

// finishFailed marks j as failed with the classified cause. startedAt may be
// nil if execution never started.
func (e *Engine) finishFailed(j *model.Job, startedAt *time.Time, cause error) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(now.Sub(*startedAt).Milliseconds())
	}

	j.Status = model.StatusFailed
	j.Error = cause.Error()
	j.ErrorKind = string(gateway.Classify(cause))
	j.DurationMS = &durationMS
	j.StartedAt = startedAt
	j.FinishedAt = &now

	e.logger.Warn("job failed", "job_id", j.ID, "backend", j.Backend, "error_kind", j.ErrorKind, "error", cause)
	if err := e.store.UpdateJob(context.Background(), j); err != nil {
		e.logger.Error("failed to update failed job", "job_id", j.ID, "error", err)
	}
}
