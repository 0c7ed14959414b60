// Package cron implements the scheduler: a thin wrapper around
// robfig/cron/v3 that enqueues a job on the executor each time a
// pipeline's trigger fires. cron/v3's own Cron scheduler runs the clock
// directly, since there is exactly one process and no leadership to
// coordinate across replicas.
package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/executor"
	"github.com/pipectl/pipectl/internal/models"
)

// Scheduler owns one robfig/cron.Cron instance for the process.
type Scheduler struct {
	c        *cron.Cron
	executor *executor.Executor
	entries  map[string]cron.EntryID
	logger   *zap.Logger
}

// New constructs a Scheduler bound to the executor's Enqueue method.
// Standard five-field cron syntax (minute hour dom month dow, no
// seconds field). logger may be nil, in which case skipped ticks go
// unlogged.
func New(ex *executor.Executor, timezone *time.Location, logger *zap.Logger) *Scheduler {
	opts := []cron.Option{cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	))}
	if timezone != nil {
		opts = append(opts, cron.WithLocation(timezone))
	}
	return &Scheduler{
		c:        cron.New(opts...),
		executor: ex,
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
	}
}

// Schedule attaches a cron trigger for pipelineID that calls
// Enqueue(pipelineID, defaultPayload) on every fire, unless a dependency
// declared for pipelineID (hard, soft or conditional) is not satisfied by
// its parent's last run — that tick is skipped, logged, and retried on
// the next fire. Missed
// fires during downtime are not replayed — cron/v3's native behavior,
// left unconfigured for catch-up.
func (s *Scheduler) Schedule(pipelineID, cronExpr string, defaultPayload models.JSONMap) error {
	id, err := s.c.AddFunc(cronExpr, func() {
		if !s.dependenciesSatisfied(pipelineID) {
			return
		}
		_, _ = s.executor.Enqueue(context.Background(), pipelineID, defaultPayload, executor.EnqueueOptions{})
	})
	if err != nil {
		return err
	}
	s.entries[pipelineID] = id
	return nil
}

// dependenciesSatisfied reports whether every dependency declared against
// pipelineID is satisfied by its parent's last run. An unregistered or
// never-run parent counts as unsatisfied for a hard dependency.
func (s *Scheduler) dependenciesSatisfied(pipelineID string) bool {
	ctx := context.Background()
	deps, err := s.executor.Store().DependenciesFor(ctx, pipelineID)
	if err != nil || len(deps) == 0 {
		return true
	}
	for _, dep := range deps {
		var status models.JobStatus
		if parent, err := s.executor.Store().LastJob(ctx, dep.ParentPipelineID, ""); err == nil {
			status = parent.Status
		}
		if !dep.Satisfied(status) {
			if s.logger != nil {
				s.logger.Info("skipping enqueue: pipeline dependency not satisfied",
					zap.String("pipeline", pipelineID),
					zap.String("parent", dep.ParentPipelineID),
					zap.String("dependencyType", string(dep.Type)),
					zap.String("parentStatus", string(status)),
				)
			}
			return false
		}
	}
	return true
}

// Start begins running scheduled triggers in a background goroutine.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the scheduler without waiting; the returned context is done
// once any running trigger funcs have returned.
func (s *Scheduler) Stop() context.Context {
	return s.c.Stop()
}
