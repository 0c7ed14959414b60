package registry_test

import (
	"errors"
	"testing"

	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/registry"
)

func noopWorker(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
	return models.JSONMap{"ok": true}, nil
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	r := registry.New(nil)
	reg := models.PipelineRegistration{ID: "p1", Name: "P1", Handler: models.WorkerFunc(noopWorker)}

	if err := r.Register(reg); err != nil {
		t.Fatalf("unexpected error on first register: %v", err)
	}
	err := r.Register(reg)
	if !errors.Is(err, registry.ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegister_RejectsInvalidID(t *testing.T) {
	r := registry.New(nil)
	err := r.Register(models.PipelineRegistration{ID: "bad id!", Handler: models.WorkerFunc(noopWorker)})
	if err == nil {
		t.Error("expected an error for an invalid pipeline id")
	}
}

func TestGet_UnknownPipelineErrors(t *testing.T) {
	r := registry.New(nil)
	_, err := r.Get("missing")
	if !errors.Is(err, registry.ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestList_ReturnsSortedRegistrations(t *testing.T) {
	r := registry.New(nil)
	_ = r.Register(models.PipelineRegistration{ID: "zeta", Handler: models.WorkerFunc(noopWorker)})
	_ = r.Register(models.PipelineRegistration{ID: "alpha", Handler: models.WorkerFunc(noopWorker)})

	list := r.List()
	if len(list) != 2 || list[0].ID != "alpha" || list[1].ID != "zeta" {
		t.Errorf("expected sorted [alpha zeta], got %+v", list)
	}
}

type fakeStats struct{}

func (fakeStats) StatsForPipeline(pipelineID string) models.JSONMap {
	return models.JSONMap{"pipelineId": pipelineID}
}

func TestAggregatedStats_UsesStatsProvider(t *testing.T) {
	r := registry.New(fakeStats{})
	_ = r.Register(models.PipelineRegistration{ID: "p1", Handler: models.WorkerFunc(noopWorker)})

	agg := r.AggregatedStats()
	if agg["p1"]["pipelineId"] != "p1" {
		t.Errorf("expected aggregated stats to include p1, got %+v", agg)
	}
}

func TestScanMetrics_UnknownPipelineErrors(t *testing.T) {
	r := registry.New(fakeStats{})
	_, err := r.ScanMetrics("missing")
	if !errors.Is(err, registry.ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}
