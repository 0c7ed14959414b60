package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/api"
	"github.com/pipectl/pipectl/internal/auth"
	"github.com/pipectl/pipectl/internal/events"
	"github.com/pipectl/pipectl/internal/executor"
	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/registry"
	"github.com/pipectl/pipectl/internal/retry"
	"github.com/pipectl/pipectl/internal/store"
)

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
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if filter.PipelineID != "" && j.PipelineID != filter.PipelineID {
			continue
		}
		out = append(out, *j)
	}
	return out, int64(len(out)), nil
}
func (m *memStore) CountsByPipeline(ctx context.Context, pipelineID string) (store.Counts, error) {
	return store.Counts{}, nil
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

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	st := newMemStore()
	reg := registry.New(nil)
	bus := events.New()
	eng := retry.New(nil, bus, 0)
	ex := executor.New(st, reg, eng, bus, nil, executor.Options{})
	eng.SetRequeuer(ex)

	handler := models.WorkerFunc(func(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
		return models.JSONMap{"ok": true}, nil
	})
	if err := reg.Register(models.PipelineRegistration{ID: "demo", Handler: handler, MaxConcurrent: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(models.PipelineRegistration{ID: "parent", Handler: handler, MaxConcurrent: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	srv := api.NewServer(api.Config{
		Port:       "0",
		Executor:   ex,
		Registry:   reg,
		Bus:        bus,
		Logger:     zap.NewNop(),
		AuthShared: auth.NewSharedKeyAuthenticator(apiKey),
	})
	return httptest.NewServer(srv.Handler())
}

func decodeEnvelope(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return out
}

func TestGetStatus_ReturnsEnvelope(t *testing.T) {
	ts := newTestServer(t, "")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestTriggerPipeline_RejectsInvalidID(t *testing.T) {
	ts := newTestServer(t, "")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/pipelines/bad id!/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTriggerPipeline_RequiresAPIKeyWhenConfigured(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/pipelines/demo/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTriggerPipeline_SucceedsWithKey(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/pipelines/demo/trigger", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}
}

func TestRegisterDependency_SucceedsWithKey(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	body := strings.NewReader(`{"parentPipelineId":"parent","type":"HARD"}`)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/pipelines/demo/dependencies", body)
	req.Header.Set("X-API-Key", "secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
}

func TestRegisterDependency_RejectsUnknownParent(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	body := strings.NewReader(`{"parentPipelineId":"ghost","type":"HARD"}`)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/pipelines/demo/dependencies", body)
	req.Header.Set("X-API-Key", "secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCancelJob_UnknownReturns404(t *testing.T) {
	ts := newTestServer(t, "")
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/jobs/does-not-exist/cancel", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
