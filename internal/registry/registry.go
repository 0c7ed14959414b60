// Package registry implements the worker registry: a process-wide
// mapping from pipeline ID to registered in-process handler.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pipectl/pipectl/internal/models"
)

// ErrAlreadyRegistered is returned by Register when a pipelineId has
// already been registered in this process.
var ErrAlreadyRegistered = fmt.Errorf("registry: pipeline already registered")

// ErrNotRegistered is returned by Get when a pipelineId is unknown.
var ErrNotRegistered = fmt.Errorf("registry: pipeline not registered")

// StatsProvider is implemented by anything that can report per-pipeline
// aggregate stats (typically the executor).
type StatsProvider interface {
	StatsForPipeline(pipelineID string) models.JSONMap
}

// Registry is a constructed, passed-by-reference registry — never a
// package-level singleton, so it stays testable.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]models.PipelineRegistration
	stats         StatsProvider
}

// New constructs an empty registry. stats may be nil until the executor
// is wired up (it is set via SetStatsProvider once both exist).
func New(stats StatsProvider) *Registry {
	return &Registry{
		registrations: make(map[string]models.PipelineRegistration),
		stats:         stats,
	}
}

// SetStatsProvider wires the executor in after construction, breaking the
// registry/executor initialization cycle.
func (r *Registry) SetStatsProvider(stats StatsProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = stats
}

// Register adds a pipeline registration. Registration is a startup-time
// operation; there is no Unregister.
func (r *Registry) Register(reg models.PipelineRegistration) error {
	if !models.ValidID(reg.ID) {
		return fmt.Errorf("registry: invalid pipeline id %q", reg.ID)
	}
	if reg.Handler == nil {
		return fmt.Errorf("registry: pipeline %q registered with a nil handler", reg.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registrations[reg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, reg.ID)
	}
	r.registrations[reg.ID] = reg
	return nil
}

// Get returns the registration for a pipelineId.
func (r *Registry) Get(pipelineID string) (models.PipelineRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.registrations[pipelineID]
	if !ok {
		return models.PipelineRegistration{}, fmt.Errorf("%w: %s", ErrNotRegistered, pipelineID)
	}
	return reg, nil
}

// List returns all registered pipelines, sorted by ID for deterministic
// output.
func (r *Registry) List() []models.PipelineRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PipelineRegistration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AggregatedStats returns per-pipeline stats across every registration,
// keyed by pipelineId.
func (r *Registry) AggregatedStats() map[string]models.JSONMap {
	r.mu.RLock()
	ids := make([]string, 0, len(r.registrations))
	for id := range r.registrations {
		ids = append(ids, id)
	}
	stats := r.stats
	r.mu.RUnlock()

	out := make(map[string]models.JSONMap, len(ids))
	for _, id := range ids {
		if stats == nil {
			out[id] = models.JSONMap{}
			continue
		}
		out[id] = stats.StatsForPipeline(id)
	}
	return out
}

// ScanMetrics returns the stats provider's view for one pipeline.
func (r *Registry) ScanMetrics(pipelineID string) (models.JSONMap, error) {
	r.mu.RLock()
	_, ok := r.registrations[pipelineID]
	stats := r.stats
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, pipelineID)
	}
	if stats == nil {
		return models.JSONMap{}, nil
	}
	return stats.StatsForPipeline(pipelineID), nil
}

