package models_test

import (
	"testing"

	"github.com/pipectl/pipectl/internal/models"
)

func TestPipelineDependency_Satisfied(t *testing.T) {
	cases := []struct {
		name   string
		dep    models.DependencyType
		status models.JobStatus
		want   bool
	}{
		{"hard requires completed", models.DependencyHard, models.StatusCompleted, true},
		{"hard rejects failed", models.DependencyHard, models.StatusFailed, false},
		{"hard rejects running", models.DependencyHard, models.StatusRunning, false},
		{"hard rejects never-run (zero value)", models.DependencyHard, "", false},

		{"soft accepts completed", models.DependencySoft, models.StatusCompleted, true},
		{"soft accepts failed", models.DependencySoft, models.StatusFailed, true},
		{"soft accepts cancelled", models.DependencySoft, models.StatusCancelled, true},
		{"soft rejects running", models.DependencySoft, models.StatusRunning, false},
		{"soft rejects queued", models.DependencySoft, models.StatusQueued, false},

		{"conditional accepts completed", models.DependencyConditional, models.StatusCompleted, true},
		{"conditional accepts failed", models.DependencyConditional, models.StatusFailed, true},
		{"conditional rejects cancelled", models.DependencyConditional, models.StatusCancelled, false},
		{"conditional rejects running", models.DependencyConditional, models.StatusRunning, false},

		{"unknown type always rejects", models.DependencyType("BOGUS"), models.StatusCompleted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dep := models.PipelineDependency{ParentPipelineID: "parent", ChildPipelineID: "child", Type: tc.dep}
			if got := dep.Satisfied(tc.status); got != tc.want {
				t.Errorf("Satisfied(%q) with type %s = %v, want %v", tc.status, tc.dep, got, tc.want)
			}
		})
	}
}

func TestPipelineDependency_TableName(t *testing.T) {
	if got := (models.PipelineDependency{}).TableName(); got != "pipeline_dependencies" {
		t.Errorf("expected table name pipeline_dependencies, got %q", got)
	}
}
