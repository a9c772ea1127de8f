package store

import (
	"context"
	"errors"

	"github.com/eth-act/ere/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate job statistics. FailuresByKind only counts failed
// jobs that carry an error kind.
type JobStats struct {
	Total               int                `json:"total"`
	CountByStatus       map[string]int     `json:"count_by_status"`
	CountByBackend      map[string]int     `json:"count_by_backend"`
	CountByMethod       map[string]int     `json:"count_by_method"`
	FailuresByKind      map[string]int     `json:"failures_by_kind"`
	AvgDurationMS       float64            `json:"avg_duration_ms"`
	AvgDurationByMethod map[string]float64 `json:"avg_duration_by_method"`
}

// Store defines the persistence operations for jobs.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	UpdateJob(ctx context.Context, j *model.Job) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	Close() error
}
