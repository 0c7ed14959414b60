package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pipectl/pipectl/internal/executor"
	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/registry"
	"github.com/pipectl/pipectl/internal/retry"
	"github.com/pipectl/pipectl/internal/store"
)

// memStore is a minimal in-memory store.Store for executor tests; it is
// not the postgres implementation under test elsewhere.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]*models.Job)} }

func (m *memStore) SaveJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ListJobs(ctx context.Context, filter store.ListFilter) ([]models.Job, int64, error) {
	return nil, 0, nil
}

func (m *memStore) CountsByPipeline(ctx context.Context, pipelineID string) (store.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c store.Counts
	for _, j := range m.jobs {
		if j.PipelineID != pipelineID {
			continue
		}
		switch j.Status {
		case models.StatusQueued:
			c.Queued++
		case models.StatusRunning:
			c.Running++
		case models.StatusCompleted:
			c.Completed++
		case models.StatusFailed:
			c.Failed++
		case models.StatusCancelled:
			c.Cancelled++
		case models.StatusPaused:
			c.Paused++
		}
	}
	return c, nil
}

func (m *memStore) LastJob(ctx context.Context, pipelineID string, status models.JobStatus) (*models.Job, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) BulkImport(ctx context.Context, jobs []models.Job) error { return nil }

func (m *memStore) RegisterDependency(ctx context.Context, parentPipelineID, childPipelineID string, depType models.DependencyType) error {
	return nil
}

func (m *memStore) DependenciesFor(ctx context.Context, childPipelineID string) ([]models.PipelineDependency, error) {
	return nil, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingEmitter) Emit(evt models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func setup(t *testing.T) (*executor.Executor, *memStore, *recordingEmitter, *registry.Registry) {
	st := newMemStore()
	emitter := &recordingEmitter{}
	reg := registry.New(nil)
	eng := retry.New(nil, emitter, 0)
	ex := executor.New(st, reg, eng, emitter, nil, executor.Options{})
	eng.SetRequeuer(ex)
	return ex, st, emitter, reg
}

func TestEnqueue_HappyPath(t *testing.T) {
	ex, st, emitter, reg := setup(t)

	handler := models.WorkerFunc(func(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
		return models.JSONMap{"ok": true}, nil
	})
	if err := reg.Register(models.PipelineRegistration{ID: "p1", Handler: handler, MaxConcurrent: 2}); err != nil {
		t.Fatalf("register: %v", err)
	}

	job, err := ex.Enqueue(context.Background(), "p1", models.JSONMap{"x": 1}, executor.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		j, err := st.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == models.StatusCompleted
	})

	final, _ := st.GetJob(context.Background(), job.ID)
	if final.Result["ok"] != true {
		t.Errorf("expected result ok=true, got %+v", final.Result)
	}

	types := emitter.types()
	if len(types) < 3 || types[0] != models.EventJobCreated || types[1] != models.EventJobStarted || types[len(types)-1] != models.EventJobCompleted {
		t.Errorf("unexpected event sequence: %v", types)
	}
}

type codedErr struct {
	msg  string
	code string
}

func (e codedErr) Error() string   { return e.msg }
func (e codedErr) Code() string    { return e.code }
func (e codedErr) StatusCode() int { return 0 }

func TestEnqueue_NonRetryableFailure(t *testing.T) {
	ex, st, emitter, reg := setup(t)

	handler := models.WorkerFunc(func(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
		return nil, codedErr{msg: "permission denied", code: "EACCES"}
	})
	if err := reg.Register(models.PipelineRegistration{ID: "p2", Handler: handler, MaxConcurrent: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	job, err := ex.Enqueue(context.Background(), "p2", nil, executor.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		j, err := st.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == models.StatusFailed
	})

	final, _ := st.GetJob(context.Background(), job.ID)
	if final.Error == nil || final.Error.Kind != models.KindHandlerPermanent {
		t.Errorf("expected handler_permanent errorInfo, got %+v", final.Error)
	}

	types := emitter.types()
	for _, ty := range types {
		if ty == models.EventRetryScheduled {
			t.Error("did not expect a retry:scheduled event for a non-retryable failure")
		}
	}
}

func TestCancel_QueuedJobNeverStarts(t *testing.T) {
	ex, st, _, reg := setup(t)

	started := make(chan struct{})
	release := make(chan struct{})
	handler := models.WorkerFunc(func(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
		close(started)
		<-release
		return models.JSONMap{}, nil
	})
	if err := reg.Register(models.PipelineRegistration{ID: "p3", Handler: handler, MaxConcurrent: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	blockerJob, _ := ex.Enqueue(context.Background(), "p3", nil, executor.EnqueueOptions{})
	<-started
	defer close(release)

	queuedJob, err := ex.Enqueue(context.Background(), "p3", nil, executor.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := ex.Cancel(context.Background(), queuedJob.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		j, err := st.GetJob(context.Background(), queuedJob.ID)
		return err == nil && j.Status == models.StatusCancelled
	})

	_ = blockerJob
}

func TestCancel_UnknownJobReturnsNotFound(t *testing.T) {
	ex, _, _, _ := setup(t)
	err := ex.Cancel(context.Background(), "does-not-exist")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterDependency_RequiresBothPipelinesRegistered(t *testing.T) {
	ex, _, _, reg := setup(t)

	handler := models.WorkerFunc(func(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
		return models.JSONMap{}, nil
	})
	if err := reg.Register(models.PipelineRegistration{ID: "child", Handler: handler, MaxConcurrent: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := ex.RegisterDependency(context.Background(), "missing-parent", "child", models.DependencyHard); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for unregistered parent, got %v", err)
	}

	if err := reg.Register(models.PipelineRegistration{ID: "parent", Handler: handler, MaxConcurrent: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ex.RegisterDependency(context.Background(), "parent", "child", models.DependencyHard); err != nil {
		t.Errorf("expected dependency registration to succeed, got %v", err)
	}
}
