package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/compute-jobs/internal/api/dto"
	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GenerateImage handles POST /stable_diffusion/generate-image
func (h *JobHandler) GenerateImage(c *gin.Context) {
	j, ok := h.submit(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, dto.SubmitResponse{
		Message: submitMessage,
		ID:      j.ID.String(),
	})
}

// GetImage handles GET /stable_diffusion/image/:id
// Responds with the bare response data once the job has completed
func (h *JobHandler) GetImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "id must be a valid UUID"})
		return
	}

	j, err := h.reader.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Image request not found"})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to get image request"})
		return
	}

	switch {
	case j.Status == job.StatusCompleted && !j.ResponseData.IsNull():
		c.Data(http.StatusOK, "application/json; charset=utf-8", j.ResponseData)
	case j.Status == job.StatusCompleted:
		// rows written before results were checked on decode
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"detail": "Image generation failed: " + job.MissingArtifactReason,
		})
	case j.Status == job.StatusFailed:
		detail := "Image generation failed"
		if j.ErrorMessage != nil {
			detail += ": " + *j.ErrorMessage
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": detail})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": "Image generation request is still processing, try again later",
		})
	}
}
