package cron_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/cron"
	"github.com/pipectl/pipectl/internal/executor"
	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/registry"
	"github.com/pipectl/pipectl/internal/retry"
	"github.com/pipectl/pipectl/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	deps map[string][]models.PipelineDependency
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.Job), deps: make(map[string][]models.PipelineDependency)}
}

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
	return store.Counts{}, nil
}
func (m *memStore) LastJob(ctx context.Context, pipelineID string, status models.JobStatus) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) BulkImport(ctx context.Context, jobs []models.Job) error { return nil }

func (m *memStore) RegisterDependency(ctx context.Context, parentPipelineID, childPipelineID string, depType models.DependencyType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[childPipelineID] = append(m.deps[childPipelineID], models.PipelineDependency{
		ParentPipelineID: parentPipelineID,
		ChildPipelineID:  childPipelineID,
		Type:             depType,
	})
	return nil
}
func (m *memStore) DependenciesFor(ctx context.Context, childPipelineID string) ([]models.PipelineDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deps[childPipelineID], nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type noopEmitter struct{}

func (noopEmitter) Emit(models.Event) {}

func TestSchedule_AcceptsExpressionAndEnqueuePersistsJob(t *testing.T) {
	st := newMemStore()
	reg := registry.New(nil)
	eng := retry.New(nil, noopEmitter{}, 0)
	ex := executor.New(st, reg, eng, noopEmitter{}, nil, executor.Options{})
	eng.SetRequeuer(ex)

	handler := models.WorkerFunc(func(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
		return models.JSONMap{}, nil
	})
	if err := reg.Register(models.PipelineRegistration{ID: "ticker", Handler: handler, MaxConcurrent: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	sched := cron.New(ex, nil, zap.NewNop())
	if err := sched.Schedule("ticker", "* * * * *", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Exercise Enqueue directly rather than waiting on a real minute tick,
	// which would make this test minutes long; Schedule's wiring itself is
	// what we verify can be invoked without error.
	_, err := ex.Enqueue(context.Background(), "ticker", nil, executor.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && st.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if st.count() != 1 {
		t.Errorf("expected 1 persisted job, got %d", st.count())
	}

	sched.Start()
	sched.Stop()
}
