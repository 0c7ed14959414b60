// Package store defines the job repository contract.
package store

import (
	"context"
	"errors"

	"github.com/pipectl/pipectl/internal/models"
)

var (
	// ErrNotFound is returned when a job lookup misses.
	ErrNotFound = errors.New("store: job not found")
	// ErrConflict is returned on a state-machine violation.
	ErrConflict = errors.New("store: conflict")
	// ErrValidation is returned when an input (id, pagination, ...) is malformed.
	ErrValidation = errors.New("store: validation error")
)

const (
	defaultLimit = 50
	maxLimit     = 1000
	minLimit     = 1
)

// ListFilter is the input to ListJobs, sanitised before reaching any
// backing store.
type ListFilter struct {
	PipelineID string
	Status     models.JobStatus
	Limit      int
	Offset     int
}

// Sanitize clamps Limit into [1, 1000] (default 50) and Offset to >= 0.
// NaN-ish zero values map to the default.
func (f ListFilter) Sanitize() ListFilter {
	out := f
	if out.Limit <= 0 {
		out.Limit = defaultLimit
	}
	if out.Limit > maxLimit {
		out.Limit = maxLimit
	}
	if out.Limit < minLimit {
		out.Limit = minLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

// Counts is the per-status breakdown returned by CountsByPipeline.
type Counts struct {
	Queued    int64
	Running   int64
	Completed int64
	Failed    int64
	Cancelled int64
	Paused    int64
}

// Store is the job repository contract.
type Store interface {
	// SaveJob upserts a job; idempotent on ID.
	SaveJob(ctx context.Context, job *models.Job) error

	// GetJob retrieves a job by ID. Returns ErrNotFound if absent and
	// ErrValidation if id is malformed.
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// ListJobs returns a page of jobs ordered by createdAt desc, plus the
	// total count when it is cheap to compute.
	ListJobs(ctx context.Context, filter ListFilter) (jobs []models.Job, total int64, err error)

	// CountsByPipeline aggregates job counts by status for one pipeline.
	CountsByPipeline(ctx context.Context, pipelineID string) (Counts, error)

	// LastJob returns the most recently created job for a pipeline,
	// optionally filtered by status. Returns ErrNotFound if none exists.
	LastJob(ctx context.Context, pipelineID string, status models.JobStatus) (*models.Job, error)

	// BulkImport persists many jobs transactionally.
	BulkImport(ctx context.Context, jobs []models.Job) error

	// RegisterDependency declares that childPipelineID's cron trigger
	// should wait on parentPipelineID's last run, per depType. Upserts on
	// the (parent, child) pair.
	RegisterDependency(ctx context.Context, parentPipelineID, childPipelineID string, depType models.DependencyType) error

	// DependenciesFor returns every dependency declared against
	// childPipelineID.
	DependenciesFor(ctx context.Context, childPipelineID string) ([]models.PipelineDependency, error)
}

// ValidateID returns ErrValidation if id does not match the accepted
// pattern, so malformed IDs never reach the backing store.
func ValidateID(id string) error {
	if !models.ValidID(id) {
		return ErrValidation
	}
	return nil
}
