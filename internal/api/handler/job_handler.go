package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/compute-jobs/internal/api/dto"
	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	submitMessage   = "Image generation request submitted successfully"
)

// CreateJob handles POST /api/v1/jobs
// Stores a new image generation job and enqueues it for a worker
func (h *JobHandler) CreateJob(c *gin.Context) {
	j, ok := h.submit(c)
	if !ok {
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{
		Message: submitMessage,
		ID:      j.ID.String(),
	})
}

// submit binds, validates and submits the request body. It writes the
// error response itself and reports whether the caller should continue.
func (h *JobHandler) submit(c *gin.Context) (*job.Job, bool) {
	req := dto.NewImageRequest()
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		body := gin.H{"error": "Invalid request body"}
		if details := dto.ValidationDetails(err); details != nil {
			body["details"] = details
		}
		c.JSON(http.StatusBadRequest, body)
		return nil, false
	}

	params, err := req.Params()
	if err != nil {
		h.logger.Error("Failed to encode request parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return nil, false
	}

	j, err := h.submitter.Submit(c.Request.Context(), params, req.WebhookURL)
	switch {
	case err == nil:
		return j, true
	case errors.Is(err, job.ErrOverloaded):
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many pending jobs, try again later"})
	case errors.Is(err, job.ErrPersistence):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job store unavailable, try again later"})
	default:
		h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
	}
	return nil, false
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	j, err := h.reader.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(j))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status filter and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		body := gin.H{"error": "Invalid query parameters"}
		if details := dto.ValidationDetails(err); details != nil {
			body["details"] = details
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	if req.PageSize == 0 {
		req.PageSize = defaultPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.lister.List(c.Request.Context(), store.Filter{
		Status:   job.Status(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// the store returns one extra row when another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}
