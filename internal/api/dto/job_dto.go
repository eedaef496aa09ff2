package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/compute"
	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultImageSize      = 1024
	DefaultInferenceSteps = 35
	DefaultGuidanceScale  = 5
)

// ImageRequest is the body of an image generation submission
type ImageRequest struct {
	Prompt            string  `json:"prompt" binding:"required,max=2000"`
	NegativePrompt    *string `json:"negative_prompt" binding:"omitempty,max=2000"`
	Height            int     `json:"height" binding:"min=16,max=1024,multiple_of_8"`
	Width             int     `json:"width" binding:"min=16,max=1024,multiple_of_8"`
	NumInferenceSteps int     `json:"num_inference_steps" binding:"min=1,max=50"`
	GuidanceScale     float64 `json:"guidance_scale" binding:"min=1,max=10"`
	WebhookURL        *string `json:"webhook_url" binding:"omitempty,http_url"`
}

// NewImageRequest returns a request pre-filled with defaults, so fields
// missing from the body keep them after binding
func NewImageRequest() ImageRequest {
	return ImageRequest{
		Height:            DefaultImageSize,
		Width:             DefaultImageSize,
		NumInferenceSteps: DefaultInferenceSteps,
		GuidanceScale:     DefaultGuidanceScale,
	}
}

// Params returns the compute parameters stored as the job's request data.
// The webhook URL is kept out of them.
func (r ImageRequest) Params() (job.Payload, error) {
	data, err := json.Marshal(compute.ImageParams{
		Prompt:            r.Prompt,
		NegativePrompt:    r.NegativePrompt,
		Height:            r.Height,
		Width:             r.Width,
		NumInferenceSteps: r.NumInferenceSteps,
		GuidanceScale:     r.GuidanceScale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request parameters: %w", err)
	}
	return data, nil
}

// SubmitResponse is returned after a job is accepted
type SubmitResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type ListJobsRequest struct {
	Status   string `form:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETED FAILED"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Request   job.Payload `json:"request"`
	Response  job.Payload `json:"response"`
	Error     *string     `json:"error,omitempty"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

// NewJobDTO converts a stored job
func NewJobDTO(j *job.Job) JobDTO {
	return JobDTO{
		ID:        j.ID.String(),
		Status:    j.Status.String(),
		Request:   j.RequestData,
		Response:  j.ResponseData,
		Error:     j.ErrorMessage,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// FieldError describes one rejected field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationDetails flattens binding errors into per-field messages. It
// returns nil for errors that are not validation failures.
func ValidationDetails(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "multiple_of_8":
		return "must be divisible by 8"
	case "http_url":
		return "must be an absolute http or https URL"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
