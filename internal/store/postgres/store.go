// Package postgres is the GORM-backed implementation of store.Store:
// tuned connection pool, AutoMigrate at boot, fmt.Errorf wrapping
// throughout.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/store"
)

// Store is the Postgres-backed Job Repository.
type Store struct {
	db *gorm.DB
}

// New opens a GORM connection, tunes the pool and runs AutoMigrate for the
// jobs and pipeline_dependencies tables — no other tables are required.
func New(dsn string) (*Store, error) {
	cfg := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Job{}, &models.PipelineDependency{}); err != nil {
		return nil, fmt.Errorf("postgres: schema migration: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveJob upserts a job by primary key.
func (s *Store) SaveJob(ctx context.Context, job *models.Job) error {
	if err := store.ValidateID(job.ID); err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	result := s.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("postgres: save job: %w", result.Error)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	var job models.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get job: %w", result.Error)
	}
	return &job, nil
}

// ListJobs returns a sanitised page of jobs ordered by createdAt desc.
func (s *Store) ListJobs(ctx context.Context, filter store.ListFilter) ([]models.Job, int64, error) {
	filter = filter.Sanitize()

	q := s.db.WithContext(ctx).Model(&models.Job{})
	if filter.PipelineID != "" {
		if !models.ValidID(filter.PipelineID) {
			return nil, 0, store.ErrValidation
		}
		q = q.Where("pipeline_id = ?", filter.PipelineID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("postgres: count jobs: %w", err)
	}

	var jobs []models.Job
	result := q.Order("created_at desc").Limit(filter.Limit).Offset(filter.Offset).Find(&jobs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("postgres: list jobs: %w", result.Error)
	}
	return jobs, total, nil
}

// CountsByPipeline aggregates status counts for one pipeline.
func (s *Store) CountsByPipeline(ctx context.Context, pipelineID string) (store.Counts, error) {
	if !models.ValidID(pipelineID) {
		return store.Counts{}, store.ErrValidation
	}

	type row struct {
		Status models.JobStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, count(*) as n").
		Where("pipeline_id = ?", pipelineID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return store.Counts{}, fmt.Errorf("postgres: counts by pipeline: %w", err)
	}

	var c store.Counts
	for _, r := range rows {
		switch r.Status {
		case models.StatusQueued:
			c.Queued = r.N
		case models.StatusRunning:
			c.Running = r.N
		case models.StatusCompleted:
			c.Completed = r.N
		case models.StatusFailed:
			c.Failed = r.N
		case models.StatusCancelled:
			c.Cancelled = r.N
		case models.StatusPaused:
			c.Paused = r.N
		}
	}
	return c, nil
}

// LastJob returns the most recently created job for a pipeline, optionally
// filtered by status.
func (s *Store) LastJob(ctx context.Context, pipelineID string, status models.JobStatus) (*models.Job, error) {
	if !models.ValidID(pipelineID) {
		return nil, store.ErrValidation
	}
	q := s.db.WithContext(ctx).Where("pipeline_id = ?", pipelineID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var job models.Job
	result := q.Order("created_at desc").First(&job)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: last job: %w", result.Error)
	}
	return &job, nil
}

// RegisterDependency upserts a pipeline-dependency edge by its (parent,
// child) composite primary key.
func (s *Store) RegisterDependency(ctx context.Context, parentPipelineID, childPipelineID string, depType models.DependencyType) error {
	if !models.ValidID(parentPipelineID) || !models.ValidID(childPipelineID) {
		return store.ErrValidation
	}
	dep := &models.PipelineDependency{
		ParentPipelineID: parentPipelineID,
		ChildPipelineID:  childPipelineID,
		Type:             depType,
	}
	if result := s.db.WithContext(ctx).Save(dep); result.Error != nil {
		return fmt.Errorf("postgres: register dependency: %w", result.Error)
	}
	return nil
}

// DependenciesFor returns every dependency declared against childPipelineID.
func (s *Store) DependenciesFor(ctx context.Context, childPipelineID string) ([]models.PipelineDependency, error) {
	if !models.ValidID(childPipelineID) {
		return nil, store.ErrValidation
	}
	var deps []models.PipelineDependency
	result := s.db.WithContext(ctx).Where("child_pipeline_id = ?", childPipelineID).Find(&deps)
	if result.Error != nil {
		return nil, fmt.Errorf("postgres: dependencies for: %w", result.Error)
	}
	return deps, nil
}

// BulkImport persists many jobs inside one transaction.
func (s *Store) BulkImport(ctx context.Context, jobs []models.Job) error {
	for i := range jobs {
		if err := jobs[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range jobs {
			if err := tx.Save(&jobs[i]).Error; err != nil {
				return fmt.Errorf("postgres: bulk import: %w", err)
			}
		}
		return nil
	})
}
