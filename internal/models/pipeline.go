package models

import (
	"context"
	"time"
)

// GitWorkflowMode selects how the git overlay groups commits for a
// pipeline run.
type GitWorkflowMode string

const (
	GitWorkflowNone         GitWorkflowMode = "none"
	GitWorkflowSingleCommit GitWorkflowMode = "single-commit"
	GitWorkflowMultiCommit  GitWorkflowMode = "multi-commit"
)

// RunContext is handed to a Worker on every invocation. It is the sole way
// a pipeline handler observes cancellation, reports progress, or commits
// intermediate git state. It offers no logger.
type RunContext interface {
	context.Context

	// Cancelled reports whether the executor has requested cooperative
	// cancellation of this run.
	Cancelled() bool

	// SetProgress reports run progress; pct is clamped to [0, 100].
	SetProgress(pct int, text string)

	// Commit stages and commits tracked changes when the owning pipeline
	// has git workflow enabled. It is a no-op returning an error when git
	// workflow is not active for this pipeline.
	Commit(message string) error
}

// Worker is the capability set a pipeline registers against the executor,
// expressed as plain composition rather than an inheritance hierarchy.
type Worker interface {
	// Run executes one job attempt and returns its result payload or an error.
	Run(rt RunContext, job *Job) (JSONMap, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(rt RunContext, job *Job) (JSONMap, error)

func (f WorkerFunc) Run(rt RunContext, job *Job) (JSONMap, error) { return f(rt, job) }

// PipelineRegistration is the process-global, in-memory registration
// record for one pipeline.
type PipelineRegistration struct {
	ID             string
	Name           string
	CronExpr       string
	Handler        Worker
	GitWorkflow    GitWorkflowMode
	MaxConcurrent  int
	Timeout        time.Duration
	DefaultPayload JSONMap
}
