// Package retry implements the retry engine: per-job retry records,
// exponential backoff with jitter, and an absolute-attempt circuit
// breaker, built as a sync.Mutex-guarded state machine.
package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pipectl/pipectl/internal/classify"
	"github.com/pipectl/pipectl/internal/models"
)

// Outcome is the verdict returned by ScheduleRetry.
type Outcome string

const (
	Scheduled     Outcome = "scheduled"
	CircuitBroken Outcome = "circuit_broken"
	Fatal         Outcome = "fatal"
)

const (
	defaultMaxAbsoluteAttempts = 5
	warnAtAttempts             = 3
	minBaseDelay               = 5 * time.Second
	maxDelay                   = 5 * time.Minute
)

// Record is the in-memory, per-job retry bookkeeping. Never persisted —
// it lives only as long as the process.
type Record struct {
	JobID               string
	Attempts            int
	LastAttemptAt       time.Time
	NextDelay           time.Duration
	MaxAbsoluteAttempts int
}

// Requeuer is implemented by the executor: it re-enqueues a job when a
// retry timer fires.
type Requeuer interface {
	RequeueJob(jobID string, nextAttempt int, nextAttemptAt time.Time)
}

// EventEmitter is implemented by the event bus.
type EventEmitter interface {
	Emit(evt models.Event)
}

// Engine holds one Record per job ID currently under retry and the timers
// that will fire them: one mutex guarding state, explicit transitions,
// no hidden globals.
type Engine struct {
	mu                  sync.Mutex
	records             map[string]*Record
	timers              map[string]*time.Timer
	requeuer            Requeuer
	emitter             EventEmitter
	maxAbsoluteAttempts int

	metricsMu     sync.Mutex
	totalAttempts int64
	circuitBreaks int64
}

// New constructs a retry engine bound to the executor (for re-enqueue) and
// the event bus (for retry:scheduled / retry:warning / retry:circuit_open).
// requeuer may be nil and wired later with SetRequeuer, breaking the
// construction cycle between Engine and the executor that owns one.
// maxAbsoluteAttempts is the circuit-breaker cap applied to every job;
// <= 0 falls back to defaultMaxAbsoluteAttempts.
func New(requeuer Requeuer, emitter EventEmitter, maxAbsoluteAttempts int) *Engine {
	if maxAbsoluteAttempts <= 0 {
		maxAbsoluteAttempts = defaultMaxAbsoluteAttempts
	}
	return &Engine{
		records:             make(map[string]*Record),
		timers:              make(map[string]*time.Timer),
		requeuer:            requeuer,
		emitter:             emitter,
		maxAbsoluteAttempts: maxAbsoluteAttempts,
	}
}

// SetRequeuer wires the executor in after construction.
func (e *Engine) SetRequeuer(requeuer Requeuer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requeuer = requeuer
}

// ScheduleRetry runs the five-step decision: classify, check attempt
// ceiling, compute backoff, arm the timer, emit the outcome.
func (e *Engine) ScheduleRetry(job *models.Job, classification classify.Classification) Outcome {
	// Step 1: non-retryable errors never retry.
	if !classification.Retryable() {
		return Fatal
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 2: lookup or create the retry record.
	rec, ok := e.records[job.ID]
	if !ok {
		rec = &Record{JobID: job.ID, MaxAbsoluteAttempts: e.maxAbsoluteAttempts}
		e.records[job.ID] = rec
	}

	// Step 3: bump attempts; check the absolute cap.
	rec.Attempts++
	rec.LastAttemptAt = time.Now()
	e.bumpTotalAttempts()

	if rec.Attempts >= rec.MaxAbsoluteAttempts {
		e.bumpCircuitBreaks()
		e.emit(models.EventRetryCircuitOpen, job, models.SeverityCritical, models.JSONMap{
			"attempts":            rec.Attempts,
			"maxAbsoluteAttempts": rec.MaxAbsoluteAttempts,
		})
		delete(e.records, job.ID)
		return CircuitBroken
	}

	// Step 4: compute delay = min(baseDelay * 2^(attempts-1), maxDelay), ±20% jitter.
	baseDelay := time.Duration(classification.SuggestedDelayMs) * time.Millisecond
	if baseDelay < minBaseDelay {
		baseDelay = minBaseDelay
	}
	delay := exponentialBackoff(baseDelay, rec.Attempts)
	rec.NextDelay = delay

	if rec.Attempts >= warnAtAttempts {
		e.emit(models.EventRetryWarning, job, models.SeverityWarning, models.JSONMap{
			"attempts":            rec.Attempts,
			"maxAbsoluteAttempts": rec.MaxAbsoluteAttempts,
		})
	}

	// Step 5: schedule the re-enqueue timer.
	nextAttemptAt := time.Now().Add(delay)
	nextAttempt := rec.Attempts + 1
	if existing, ok := e.timers[job.ID]; ok {
		existing.Stop()
	}
	requeuer := e.requeuer
	e.timers[job.ID] = time.AfterFunc(delay, func() {
		if requeuer != nil {
			requeuer.RequeueJob(job.ID, nextAttempt, nextAttemptAt)
		}
	})

	e.emit(models.EventRetryScheduled, job, models.SeverityInfo, models.JSONMap{
		"attempts":      rec.Attempts,
		"delayMs":       delay.Milliseconds(),
		"nextAttemptAt": nextAttemptAt,
	})

	return Scheduled
}

// exponentialBackoff computes base*2^(attempt-1), capped at maxDelay,
// with +/-20% jitter, using math/rand/v2.
func exponentialBackoff(base time.Duration, attempt int) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	jitter := (rand.Float64() - 0.5) * 0.4 * backoff
	backoff += jitter
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// Cancel stops any pending retry timer for a job (used on explicit cancel).
func (e *Engine) Cancel(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[jobID]; ok {
		t.Stop()
		delete(e.timers, jobID)
	}
	delete(e.records, jobID)
}

// Forget drops the retry record after a job terminates successfully.
func (e *Engine) Forget(jobID string) {
	e.Cancel(jobID)
}

// RecordFor returns a copy of the current retry record, if any.
func (e *Engine) RecordFor(jobID string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[jobID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Stats is the aggregate observability surface over retry state.
type Stats struct {
	ActiveRetries int
	TotalAttempts int64
	CircuitBreaks int64
	NearingLimit  int
}

// Stats reports active retries, total attempts and jobs nearing their
// absolute attempt limit (>= 3 attempts).
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	active := len(e.records)
	nearing := 0
	for _, rec := range e.records {
		if rec.Attempts >= warnAtAttempts {
			nearing++
		}
	}
	e.mu.Unlock()

	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return Stats{
		ActiveRetries: active,
		TotalAttempts: e.totalAttempts,
		CircuitBreaks: e.circuitBreaks,
		NearingLimit:  nearing,
	}
}

func (e *Engine) bumpTotalAttempts() {
	e.metricsMu.Lock()
	e.totalAttempts++
	e.metricsMu.Unlock()
}

func (e *Engine) bumpCircuitBreaks() {
	e.metricsMu.Lock()
	e.circuitBreaks++
	e.metricsMu.Unlock()
}

func (e *Engine) emit(t models.EventType, job *models.Job, sev models.Severity, payload models.JSONMap) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(models.Event{
		Type:       t,
		JobID:      job.ID,
		PipelineID: job.PipelineID,
		Timestamp:  time.Now(),
		Severity:   sev,
		Payload:    payload,
	})
}
