// Package executor implements the job executor: the lifecycle engine
// that accepts jobs, enforces per-pipeline concurrency, runs handlers,
// persists transitions and emits events. Each pipeline gets its own
// in-process FIFO queue and worker-pool semaphore sized by its own
// maxConcurrent, rather than one global pool draining a shared queue.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipectl/pipectl/internal/classify"
	"github.com/pipectl/pipectl/internal/gitflow"
	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/registry"
	"github.com/pipectl/pipectl/internal/retry"
	"github.com/pipectl/pipectl/internal/store"
)

const defaultMaxConcurrent = 5
const defaultMaxRetries = 3
const defaultHandlerTimeout = 10 * time.Minute
const defaultDBSaveInterval = 30 * time.Second

// Options carries the process-wide defaults a registration can override
// per pipeline (MaxConcurrent, Timeout) or that otherwise govern every
// job uniformly. A zero-value Options falls back to the package defaults
// above, same as EnqueueOptions{}.
type Options struct {
	DefaultMaxRetries     int
	DefaultMaxConcurrent  int
	DefaultHandlerTimeout time.Duration
	DBSaveInterval        time.Duration
}

// EventEmitter is satisfied by the event bus.
type EventEmitter interface {
	Emit(evt models.Event)
}

// EnqueueOptions customizes a single enqueue call.
type EnqueueOptions struct {
	MaxRetries *int
	Priority   int
	Labels     models.StringMap
}

// pipelineState holds the per-pipeline dispatcher: a FIFO queue guarded by
// a mutex+cond and a semaphore sized to the pipeline's maxConcurrent.
type pipelineState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*models.Job
	sem      chan struct{}
	draining bool
}

func newPipelineState(maxConcurrent, fallback int) *pipelineState {
	if maxConcurrent <= 0 {
		maxConcurrent = fallback
	}
	ps := &pipelineState{sem: make(chan struct{}, maxConcurrent)}
	ps.cond = sync.NewCond(&ps.mu)
	return ps
}

func (ps *pipelineState) push(job *models.Job) {
	ps.mu.Lock()
	ps.queue = append(ps.queue, job)
	ps.mu.Unlock()
	ps.cond.Signal()
}

// pop blocks until a job is available or the state is draining; returns
// nil when draining with an empty queue.
func (ps *pipelineState) pop() *models.Job {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for len(ps.queue) == 0 && !ps.draining {
		ps.cond.Wait()
	}
	if len(ps.queue) == 0 {
		return nil
	}
	job := ps.queue[0]
	ps.queue = ps.queue[1:]
	return job
}

func (ps *pipelineState) drain() {
	ps.mu.Lock()
	ps.draining = true
	ps.mu.Unlock()
	ps.cond.Broadcast()
}

// runningJob tracks the cancel func for a job currently executing, so
// Cancel can request cooperative cancellation.
type runningJob struct {
	cancel context.CancelFunc
}

// Executor is the job lifecycle engine, constructed once per process.
type Executor struct {
	store    store.Store
	registry *registry.Registry
	retry    *retry.Engine
	events   EventEmitter
	git      *gitflow.Manager

	mu          sync.Mutex
	pipelines   map[string]*pipelineState
	running     map[string]*runningJob
	gracePeriod time.Duration

	defaultMaxRetries     int
	defaultMaxConcurrent  int
	defaultHandlerTimeout time.Duration
	dbSaveInterval        time.Duration

	wg sync.WaitGroup
}

// New constructs an Executor. git may be nil when no pipeline uses a git
// workflow. Any zero-valued field in opts falls back to this package's
// default.
func New(st store.Store, reg *registry.Registry, retryEngine *retry.Engine, events EventEmitter, git *gitflow.Manager, opts Options) *Executor {
	if opts.DefaultMaxRetries <= 0 {
		opts.DefaultMaxRetries = defaultMaxRetries
	}
	if opts.DefaultMaxConcurrent <= 0 {
		opts.DefaultMaxConcurrent = defaultMaxConcurrent
	}
	if opts.DefaultHandlerTimeout <= 0 {
		opts.DefaultHandlerTimeout = defaultHandlerTimeout
	}
	if opts.DBSaveInterval <= 0 {
		opts.DBSaveInterval = defaultDBSaveInterval
	}

	e := &Executor{
		store:                 st,
		registry:              reg,
		retry:                 retryEngine,
		events:                events,
		git:                   git,
		pipelines:             make(map[string]*pipelineState),
		running:               make(map[string]*runningJob),
		gracePeriod:           30 * time.Second,
		defaultMaxRetries:     opts.DefaultMaxRetries,
		defaultMaxConcurrent:  opts.DefaultMaxConcurrent,
		defaultHandlerTimeout: opts.DefaultHandlerTimeout,
		dbSaveInterval:        opts.DBSaveInterval,
	}
	reg.SetStatsProvider(e)
	return e
}

// Store exposes the underlying Job Repository for read-only query paths
// (the REST API's list/get handlers) that don't need lifecycle logic.
func (e *Executor) Store() store.Store { return e.store }

// RequeueJob implements retry.Requeuer: fired by the retry engine's timer
// when a backoff delay elapses.
func (e *Executor) RequeueJob(jobID string, nextAttempt int, nextAttemptAt time.Time) {
	ctx := context.Background()
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status != models.StatusQueued {
		// Job was cancelled or otherwise mutated while the retry timer was
		// pending; do not resurrect it.
		return
	}
	job.Attempt = nextAttempt
	job.NextAttemptAt = &nextAttemptAt
	if err := e.store.SaveJob(ctx, job); err != nil {
		return
	}
	e.dispatch(job)
}

func (e *Executor) pipelineStateFor(pipelineID string, maxConcurrent int) *pipelineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.pipelines[pipelineID]
	if !ok {
		ps = newPipelineState(maxConcurrent, e.defaultMaxConcurrent)
		e.pipelines[pipelineID] = ps
		e.wg.Add(1)
		go e.runDispatcher(pipelineID, ps)
	}
	return ps
}

func (e *Executor) dispatch(job *models.Job) {
	reg, err := e.registry.Get(job.PipelineID)
	if err != nil {
		return
	}
	ps := e.pipelineStateFor(job.PipelineID, reg.MaxConcurrent)
	ps.push(job)
}

// runDispatcher is the per-pipeline FIFO loop: pop a job, acquire a slot,
// run it in its own goroutine, release the slot on completion.
func (e *Executor) runDispatcher(pipelineID string, ps *pipelineState) {
	defer e.wg.Done()
	for {
		job := ps.pop()
		if job == nil {
			return
		}

		ps.sem <- struct{}{}
		e.wg.Add(1)
		go func(job *models.Job) {
			defer e.wg.Done()
			defer func() { <-ps.sem }()
			e.runJob(job)
		}(job)
	}
}

// Enqueue validates the pipeline is registered, persists a queued job and
// returns immediately; the dispatcher picks it up asynchronously.
func (e *Executor) Enqueue(ctx context.Context, pipelineID string, payload models.JSONMap, opts EnqueueOptions) (*models.Job, error) {
	reg, err := e.registry.Get(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrValidation, err)
	}

	merged := models.JSONMap{}
	for k, v := range reg.DefaultPayload {
		merged[k] = v
	}
	for k, v := range payload {
		merged[k] = v
	}

	maxRetries := e.defaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}

	job := &models.Job{
		ID:         uuid.New().String(),
		PipelineID: pipelineID,
		Status:     models.StatusQueued,
		Attempt:    1,
		MaxRetries: maxRetries,
		Payload:    merged,
		CreatedAt:  time.Now(),
		Priority:   opts.Priority,
		Labels:     opts.Labels,
	}

	if err := e.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	e.emit(models.EventJobCreated, job, models.SeverityInfo, nil)
	e.dispatch(job)
	return job, nil
}

// Cancel requests cancellation of a job in queued, running or paused
// state. Queued/paused jobs are cancelled immediately; running jobs are
// asked to cancel cooperatively via their context.
func (e *Executor) Cancel(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case models.StatusQueued, models.StatusPaused:
		e.retry.Cancel(jobID)
		job.Status = models.StatusCancelled
		now := time.Now()
		job.CompletedAt = &now
		if err := e.store.SaveJob(ctx, job); err != nil {
			return err
		}
		e.emit(models.EventJobCancelled, job, models.SeverityInfo, nil)
		return nil
	case models.StatusRunning:
		e.mu.Lock()
		rj, ok := e.running[jobID]
		e.mu.Unlock()
		if ok {
			rj.cancel()
		}
		return nil
	default:
		return store.ErrConflict
	}
}

// Pause transitions a queued job to paused. Running jobs cannot be paused.
func (e *Executor) Pause(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.StatusQueued {
		return store.ErrConflict
	}
	job.Status = models.StatusPaused
	return e.store.SaveJob(ctx, job)
}

// Resume transitions a paused job back to queued and re-dispatches it.
func (e *Executor) Resume(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.StatusPaused {
		return store.ErrConflict
	}
	job.Status = models.StatusQueued
	if err := e.store.SaveJob(ctx, job); err != nil {
		return err
	}
	e.dispatch(job)
	return nil
}

// RegisterDependency declares that childPipelineID's cron trigger should
// wait on parentPipelineID's last run. Both pipelines must already be
// registered; the dependency itself is persisted so the cron scheduler
// can consult it on every fire, not just at registration time.
func (e *Executor) RegisterDependency(ctx context.Context, parentPipelineID, childPipelineID string, depType models.DependencyType) error {
	if _, err := e.registry.Get(parentPipelineID); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if _, err := e.registry.Get(childPipelineID); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return e.store.RegisterDependency(ctx, parentPipelineID, childPipelineID, depType)
}

// Retry re-enqueues a failed job, resetting its attempt counter to 1, per
// the REST surface's POST /jobs/:jobId/retry.
func (e *Executor) Retry(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.StatusFailed {
		return store.ErrConflict
	}
	job.Status = models.StatusQueued
	job.Attempt = 1
	job.Error = nil
	job.CompletedAt = nil
	if err := e.store.SaveJob(ctx, job); err != nil {
		return err
	}
	e.retry.Forget(jobID)
	e.dispatch(job)
	return nil
}

// Stats reports the aggregate view of executor load and outcomes.
type Stats struct {
	Queued      int64
	Running     int64
	Completed   int64
	Failed      int64
	Cancelled   int64
	Paused      int64
	Capacity    int
	RetryStats  retry.Stats
}

// Stats aggregates counts across every registered pipeline plus retry
// engine observability data.
func (e *Executor) Stats(ctx context.Context) (Stats, error) {
	var total store.Counts
	capacity := 0
	for _, reg := range e.registry.List() {
		counts, err := e.store.CountsByPipeline(ctx, reg.ID)
		if err != nil {
			return Stats{}, err
		}
		total.Queued += counts.Queued
		total.Running += counts.Running
		total.Completed += counts.Completed
		total.Failed += counts.Failed
		total.Cancelled += counts.Cancelled
		total.Paused += counts.Paused

		mc := reg.MaxConcurrent
		if mc <= 0 {
			mc = e.defaultMaxConcurrent
		}
		capacity += mc
	}

	return Stats{
		Queued:     total.Queued,
		Running:    total.Running,
		Completed:  total.Completed,
		Failed:     total.Failed,
		Cancelled:  total.Cancelled,
		Paused:     total.Paused,
		Capacity:   capacity,
		RetryStats: e.retry.Stats(),
	}, nil
}

// StatsForPipeline implements registry.StatsProvider.
func (e *Executor) StatsForPipeline(pipelineID string) models.JSONMap {
	counts, err := e.store.CountsByPipeline(context.Background(), pipelineID)
	if err != nil {
		return models.JSONMap{"error": err.Error()}
	}
	return models.JSONMap{
		"queued":    counts.Queued,
		"running":   counts.Running,
		"completed": counts.Completed,
		"failed":    counts.Failed,
		"cancelled": counts.Cancelled,
		"paused":    counts.Paused,
	}
}

// Shutdown stops accepting new dispatch cycles, cancels in-flight jobs and
// waits up to gracePeriod for them to finish honoring cancellation. Jobs
// still waiting in a pipeline queue are not dispatched and stay queued in
// the store.
func (e *Executor) Shutdown(ctx context.Context) {
	e.mu.Lock()
	for _, ps := range e.pipelines {
		ps.mu.Lock()
		ps.queue = nil
		ps.mu.Unlock()
		ps.drain()
	}
	for _, rj := range e.running {
		rj.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.gracePeriod):
	case <-ctx.Done():
	}
}

func (e *Executor) emit(t models.EventType, job *models.Job, sev models.Severity, payload models.JSONMap) {
	if e.events == nil {
		return
	}
	e.events.Emit(models.Event{
		Type:       t,
		JobID:      job.ID,
		PipelineID: job.PipelineID,
		Timestamp:  time.Now(),
		Severity:   sev,
		Payload:    payload,
	})
}

// runJob drives one attempt of a job through transition-to-running,
// handler invocation, and outcome recording.
func (e *Executor) runJob(job *models.Job) {
	reg, err := e.registry.Get(job.PipelineID)
	if err != nil {
		return
	}

	ctx := context.Background()

	// The job may have been cancelled or paused while it sat in the
	// pipeline's in-memory queue; re-check the persisted status before
	// transitioning to running so a queued-then-cancelled job never runs.
	current, err := e.store.GetJob(ctx, job.ID)
	if err != nil || current.Status != models.StatusQueued {
		return
	}

	now := time.Now()
	job.Status = models.StatusRunning
	job.StartedAt = &now
	if err := e.store.SaveJob(ctx, job); err != nil {
		return
	}
	e.emit(models.EventJobStarted, job, models.SeverityInfo, nil)

	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = e.defaultHandlerTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)

	e.mu.Lock()
	e.running[job.ID] = &runningJob{cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, job.ID)
		e.mu.Unlock()
		cancel()
	}()

	var branchName string
	gitActive := reg.GitWorkflow != models.GitWorkflowNone && e.git != nil
	if gitActive {
		name, err := e.git.CreateJobBranch(job, now)
		if err != nil {
			e.failJob(ctx, job, models.ErrorInfo{
				Message:   err.Error(),
				Kind:      models.KindInfrastructure,
				Retryable: false,
			})
			return
		}
		branchName = name
		job.BranchName = &branchName
		_ = e.store.SaveJob(ctx, job)
	}

	lastFlush := time.Now()
	rt := newRunContext(runCtx, func(pct int, text string) {
		e.emitProgress(job, pct, text)
		// Persist progress at most once per dbSaveInterval: emitProgress
		// always notifies the event bus, but every call writing through to
		// Postgres would make a tight progress loop as chatty as the DB
		// connection pool allows.
		if time.Since(lastFlush) >= e.dbSaveInterval {
			_ = e.store.SaveJob(ctx, job)
			lastFlush = time.Now()
		}
	}, func(message string) error {
		if !gitActive {
			return errNoGitWorkflow
		}
		return e.git.Commit(message)
	})

	result, handlerErr := e.safeRun(reg, rt, job)

	if handlerErr != nil {
		if rt.Cancelled() {
			e.cancelJob(ctx, job, gitActive)
			return
		}

		classification := classify.Classify(handlerErr)
		errInfo := models.ErrorInfo{
			Message:   handlerErr.Error(),
			Retryable: classification.Retryable(),
		}
		if classification.Retryable() {
			errInfo.Kind = models.KindHandlerTransient
			outcome := e.retry.ScheduleRetry(job, classification)
			switch outcome {
			case retry.Scheduled:
				job.Status = models.StatusQueued
				_ = e.store.SaveJob(ctx, job)
				return
			case retry.CircuitBroken:
				errInfo.Kind = models.KindCircuitBroken
				e.failJob(ctx, job, errInfo)
				if gitActive {
					_ = e.git.CleanupOnFailure()
				}
				return
			}
		}
		errInfo.Kind = models.KindHandlerPermanent
		e.failJob(ctx, job, errInfo)
		if gitActive {
			_ = e.git.CleanupOnFailure()
		}
		return
	}

	e.retry.Forget(job.ID)

	completedAt := time.Now()
	job.Status = models.StatusCompleted
	job.Result = result
	job.CompletedAt = &completedAt

	if gitActive {
		prURL, err := e.git.PushAndCreatePR(ctx, job, branchName, gitflow.PullRequestInfo{
			Title: gitflow.PRTitleFor(job),
			Body:  fmt.Sprintf("Automated pipeline run for %s", job.PipelineID),
		})
		if err != nil {
			// Not propagated and not logged: the job still completes, only
			// without a PR URL.
		} else {
			job.PRUrl = &prURL
		}
	}

	_ = e.store.SaveJob(ctx, job)
	e.emit(models.EventJobCompleted, job, models.SeverityInfo, result)
}

// safeRun invokes the handler, recovering a panic into an error so the
// semaphore slot is always released.
func (e *Executor) safeRun(reg models.PipelineRegistration, rt models.RunContext, job *models.Job) (result models.JSONMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor: handler panicked: %v", r)
		}
	}()
	return reg.Handler.Run(rt, job)
}

func (e *Executor) emitProgress(job *models.Job, pct int, text string) {
	job.Progress = pct
	job.ProgressText = text
	e.emit(models.EventJobProgress, job, models.SeverityInfo, models.JSONMap{"progress": pct, "text": text})
}

func (e *Executor) failJob(ctx context.Context, job *models.Job, errInfo models.ErrorInfo) {
	completedAt := time.Now()
	job.Status = models.StatusFailed
	job.Error = &errInfo
	job.CompletedAt = &completedAt
	_ = e.store.SaveJob(ctx, job)
	e.emit(models.EventJobFailed, job, models.SeverityError, models.JSONMap{"errorInfo": errInfo})
}

func (e *Executor) cancelJob(ctx context.Context, job *models.Job, gitActive bool) {
	completedAt := time.Now()
	job.Status = models.StatusCancelled
	job.CompletedAt = &completedAt
	_ = e.store.SaveJob(ctx, job)
	e.emit(models.EventJobCancelled, job, models.SeverityInfo, nil)
	if gitActive {
		_ = e.git.CleanupOnFailure()
	}
}
