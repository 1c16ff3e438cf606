package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"resynth/src/core/artifact"
	"resynth/src/infrastructure/job"
	"resynth/src/infrastructure/log"
)

// JobService is the submit and query surface the handlers call.
type JobService interface {
	Submit(ctx context.Context, req job.SubmitRequest) (*job.JobRecord, error)
	Get(ctx context.Context, id string) (*job.JobRecord, bool, error)
	BatchGet(ctx context.Context, ids []string) ([]*job.JobRecord, error)
	ListByStatus(ctx context.Context, status job.JobStatus, limit int) ([]*job.JobRecord, error)
}

type URLDeriver interface {
	Derive(ctx context.Context, rec *job.JobRecord) (artifact.AccessURLs, error)
}

type UploadPresigner interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type Config struct {
	InputPrefix   string
	PresignExpiry time.Duration
}

type Handler struct {
	jobs    JobService
	deriver URLDeriver
	uploads UploadPresigner
	cfg     Config
	logger  logr.Logger
}

func NewHandler(jobs JobService, deriver URLDeriver, uploads UploadPresigner, cfg Config) *Handler {
	if cfg.InputPrefix == "" {
		cfg.InputPrefix = "input/"
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = artifact.DefaultExpiry
	}
	return &Handler{
		jobs:    jobs,
		deriver: deriver,
		uploads: uploads,
		cfg:     cfg,
		logger:  log.WithName("http"),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// System routes
	api.GET("/health", h.CheckHealth)
	api.GET("/effects", h.ListEffects)

	// Upload routes
	api.POST("/upload-url", h.CreateUploadURL)

	// Job routes
	api.POST("/jobs", h.SubmitJob)
	api.GET("/jobs", h.ListJobs)
	api.GET("/jobs/:id", h.GetJob)
	api.POST("/jobs/batch", h.BatchGetJobs)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

var (
	errNotFound   = errors.New("job not found")
	errBadRequest = errors.New("bad request")
)

func sendError(c *gin.Context, err error) {
	var (
		code   string
		status int
	)
	switch {
	case errors.Is(err, errNotFound):
		code, status = "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, job.ErrInvalidRequest), errors.Is(err, job.ErrBatchTooLarge):
		code, status = "INVALID_REQUEST", http.StatusBadRequest
	case errors.Is(err, job.ErrDuplicateKey):
		code, status = "CONFLICT", http.StatusConflict
	case errors.Is(err, job.ErrQueueUnavailable), errors.Is(err, job.ErrDeliveryFailed):
		code, status = "QUEUE_UNAVAILABLE", http.StatusServiceUnavailable
	case errors.Is(err, job.ErrStoreUnavailable):
		code, status = "STORE_UNAVAILABLE", http.StatusServiceUnavailable
	default:
		code, status = "INTERNAL_ERROR", http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
