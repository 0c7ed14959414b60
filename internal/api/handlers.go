package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pipectl/pipectl/internal/executor"
	"github.com/pipectl/pipectl/internal/hostinfo"
	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/registry"
	"github.com/pipectl/pipectl/internal/store"
)

// envelope helpers produce the standard response shape:
// {success,data,timestamp} or {success,error:{message,code},timestamp}.

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC(),
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"message": message,
			"code":    code,
		},
		"timestamp": time.Now().UTC(),
	})
}

// respondStoreErr maps the store's sentinel errors (and registry's) onto
// the REST error taxonomy.
func respondStoreErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		respondError(c, http.StatusBadRequest, "INVALID_ID", err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrConflict):
		respondError(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, registry.ErrNotRegistered):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func validateID(c *gin.Context, id string) bool {
	if !models.ValidID(id) {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "id must match ^[A-Za-z0-9_-]{1,100}$")
		return false
	}
	return true
}

// getStatus implements GET /api/status: aggregated executor stats plus
// per-pipeline registry stats.
func (s *Server) getStatus(c *gin.Context) {
	stats, err := s.ex.Stats(c.Request.Context())
	if err != nil {
		respondStoreErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"jobs":      stats,
		"pipelines": s.reg.AggregatedStats(),
		"host":      hostinfo.Capture(),
	})
}

// listPipelines implements GET /api/pipelines.
func (s *Server) listPipelines(c *gin.Context) {
	regs := s.reg.List()
	out := make([]gin.H, 0, len(regs))
	for _, reg := range regs {
		metrics, err := s.reg.ScanMetrics(reg.ID)
		if err != nil {
			metrics = models.JSONMap{}
		}
		out = append(out, gin.H{
			"id":            reg.ID,
			"name":          reg.Name,
			"cronExpr":      reg.CronExpr,
			"gitWorkflow":   reg.GitWorkflow,
			"maxConcurrent": reg.MaxConcurrent,
			"stats":         metrics,
		})
	}
	respondOK(c, http.StatusOK, out)
}

// triggerPipeline implements POST /api/pipelines/:pipelineId/trigger.
func (s *Server) triggerPipeline(c *gin.Context) {
	pipelineID := c.Param("pipelineId")
	if !validateID(c, pipelineID) {
		return
	}

	var body struct {
		Parameters models.JSONMap `json:"parameters"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	job, err := s.ex.Enqueue(c.Request.Context(), pipelineID, body.Parameters, executor.EnqueueOptions{})
	if err != nil {
		respondStoreErr(c, err)
		return
	}
	respondOK(c, http.StatusAccepted, job)
}

// listPipelineJobs implements GET /api/pipelines/:pipelineId/jobs.
func (s *Server) listPipelineJobs(c *gin.Context) {
	pipelineID := c.Param("pipelineId")
	if !validateID(c, pipelineID) {
		return
	}
	s.listJobsWithFilter(c, store.ListFilter{PipelineID: pipelineID})
}

// listJobs implements GET /api/jobs.
func (s *Server) listJobs(c *gin.Context) {
	filter := store.ListFilter{
		PipelineID: c.Query("pipelineId"),
		Status:     models.JobStatus(c.Query("status")),
	}
	if filter.PipelineID != "" && !validateID(c, filter.PipelineID) {
		return
	}
	s.listJobsWithFilter(c, filter)
}

func (s *Server) listJobsWithFilter(c *gin.Context, filter store.ListFilter) {
	filter.Limit = parseIntOr(c.Query("limit"), 0)
	filter.Offset = parseIntOr(c.Query("offset"), 0)
	filter = filter.Sanitize()

	jobs, total, err := s.ex.Store().ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondStoreErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseIntOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// getJob implements GET /api/jobs/:jobId.
func (s *Server) getJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if !validateID(c, jobID) {
		return
	}
	job, err := s.ex.Store().GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondStoreErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, job)
}

// cancelJob implements POST /api/jobs/:jobId/cancel.
func (s *Server) cancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if !validateID(c, jobID) {
		return
	}
	if err := s.ex.Cancel(c.Request.Context(), jobID); err != nil {
		respondStoreErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"cancelled": true})
}

// registerDependency implements POST /api/pipelines/:pipelineId/dependencies:
// declares that the path pipeline (the child) should wait on the parent
// named in the body before its cron trigger fires.
func (s *Server) registerDependency(c *gin.Context) {
	childID := c.Param("pipelineId")
	if !validateID(c, childID) {
		return
	}

	var body struct {
		ParentPipelineID string                `json:"parentPipelineId"`
		Type             models.DependencyType `json:"type"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if !validateID(c, body.ParentPipelineID) {
		return
	}
	switch body.Type {
	case models.DependencyHard, models.DependencySoft, models.DependencyConditional:
	default:
		respondError(c, http.StatusBadRequest, "INVALID_BODY", "type must be HARD, SOFT or CONDITIONAL")
		return
	}

	if err := s.ex.RegisterDependency(c.Request.Context(), body.ParentPipelineID, childID, body.Type); err != nil {
		respondStoreErr(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"registered": true})
}

// retryJob implements POST /api/jobs/:jobId/retry.
func (s *Server) retryJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if !validateID(c, jobID) {
		return
	}
	if err := s.ex.Retry(c.Request.Context(), jobID); err != nil {
		respondStoreErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"retried": true})
}
