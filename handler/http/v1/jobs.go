package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"resynth/src/core/artifact"
	"resynth/src/infrastructure/job"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type SubmitJobRequest struct {
	S3Key            string            `json:"s3_key" binding:"required"`
	EffectChain      []job.Instruction `json:"effect_chain"`
	OriginalFilename *string           `json:"original_filename"`
}

type SubmitJobResponse struct {
	JobID  string        `json:"job_id"`
	Status job.JobStatus `json:"status"`
}

type BatchGetRequest struct {
	JobIDs []string `json:"job_ids"`
}

// JobResponse is a job record with its download links, when it has any.
type JobResponse struct {
	*job.JobRecord
	artifact.AccessURLs
}

// SubmitJob godoc
// @Summary Submit a re-synthesis job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body SubmitJobRequest true "Job to submit"
// @Success 202 {object} SubmitJobResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /jobs [post]
func (h *Handler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	rec, err := h.jobs.Submit(c.Request.Context(), job.SubmitRequest{
		InputKey:         req.S3Key,
		EffectChain:      req.EffectChain,
		OriginalFilename: req.OriginalFilename,
	})
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusAccepted, SubmitJobResponse{JobID: rec.JobID, Status: rec.Status})
}

// GetJob godoc
// @Summary Get a job and its download links
// @Tags jobs
// @Param id path string true "Job ID"
// @Produce json
// @Success 200 {object} JobResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	rec, found, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return
	}
	if !found {
		sendError(c, fmt.Errorf("%w: %s", errNotFound, id))
		return
	}

	urls, err := h.deriver.Derive(c.Request.Context(), rec)
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, JobResponse{JobRecord: rec, AccessURLs: urls})
}

// BatchGetJobs godoc
// @Summary Get several jobs at once
// @Description Missing ids are omitted. At most 100 ids are looked up.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body BatchGetRequest true "Job IDs"
// @Success 200 {object} map[string][]JobResponse
// @Failure 400 {object} ErrorResponse
// @Router /jobs/batch [post]
func (h *Handler) BatchGetJobs(c *gin.Context) {
	var req BatchGetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	recs, err := h.jobs.BatchGet(c.Request.Context(), req.JobIDs)
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, gin.H{"jobs": h.withURLs(c, recs)})
}

// ListJobs godoc
// @Summary List jobs in one status, most recent first
// @Tags jobs
// @Param status query string true "Job status"
// @Param limit query int false "Maximum number of jobs"
// @Produce json
// @Success 200 {object} map[string][]JobResponse
// @Failure 400 {object} ErrorResponse
// @Router /jobs [get]
func (h *Handler) ListJobs(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendError(c, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := h.jobs.ListByStatus(c.Request.Context(), job.JobStatus(c.Query("status")), limit)
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, gin.H{"jobs": h.withURLs(c, recs)})
}

// withURLs attaches links to each record. A record whose links cannot be
// derived is returned without them.
func (h *Handler) withURLs(c *gin.Context, recs []*job.JobRecord) []JobResponse {
	out := make([]JobResponse, 0, len(recs))
	for _, rec := range recs {
		urls, err := h.deriver.Derive(c.Request.Context(), rec)
		if err != nil {
			h.logger.Error(err, "Failed to derive access urls", "job_id", rec.JobID)
		}
		out = append(out, JobResponse{JobRecord: rec, AccessURLs: urls})
	}
	return out
}
