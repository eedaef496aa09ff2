package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/artifact"
	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/google/uuid"
)

// ImageParams are the compute parameters of an image generation job
type ImageParams struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    *string `json:"negative_prompt,omitempty"`
	Height            int     `json:"height"`
	Width             int     `json:"width"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
}

func (p ImageParams) validate() error {
	switch {
	case p.Prompt == "":
		return errors.New("prompt is required")
	case p.Height < 16 || p.Height > 1024 || p.Height%8 != 0:
		return fmt.Errorf("invalid height %d", p.Height)
	case p.Width < 16 || p.Width > 1024 || p.Width%8 != 0:
		return fmt.Errorf("invalid width %d", p.Width)
	case p.NumInferenceSteps < 1:
		return fmt.Errorf("invalid num_inference_steps %d", p.NumInferenceSteps)
	}
	return nil
}

// ImageRenderer stands in for an inference engine. It spends StepDelay per
// inference step, renders a placeholder PNG seeded by the prompt and
// uploads it to artifact storage.
type ImageRenderer struct {
	storage   artifact.Storage
	stepDelay time.Duration
	logger    *slog.Logger
}

// NewImageRenderer creates a new ImageRenderer
func NewImageRenderer(storage artifact.Storage, stepDelay time.Duration, logger *slog.Logger) *ImageRenderer {
	return &ImageRenderer{
		storage:   storage,
		stepDelay: stepDelay,
		logger:    logger,
	}
}

func (r *ImageRenderer) Execute(ctx context.Context, id uuid.UUID, params job.Payload) Outcome {
	var p ImageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Failure(fmt.Sprintf("invalid request parameters: %v", err))
	}
	if err := p.validate(); err != nil {
		return Failure(fmt.Sprintf("invalid request parameters: %v", err))
	}

	if err := r.denoise(ctx, p.NumInferenceSteps); err != nil {
		return Failure(fmt.Sprintf("generation interrupted: %v", err))
	}

	data, err := render(p)
	if err != nil {
		return Failure(fmt.Sprintf("failed to encode image: %v", err))
	}

	res, err := r.storage.Upload(ctx, id.String(), data)
	if err != nil {
		return Failure(fmt.Sprintf("failed to store image: %v", err))
	}

	r.logger.Info("Image generated",
		slog.String("job_id", id.String()),
		slog.String("key", res.Key),
		slog.Int("width", p.Width),
		slog.Int("height", p.Height),
		slog.Int("steps", p.NumInferenceSteps),
	)

	return Success(res.URL)
}

func (r *ImageRenderer) denoise(ctx context.Context, steps int) error {
	if r.stepDelay <= 0 {
		return ctx.Err()
	}

	ticker := time.NewTicker(r.stepDelay)
	defer ticker.Stop()

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// render draws a diagonal gradient whose colours are derived from the
// prompt, so equal prompts give equal images
func render(p ImageParams) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p.Prompt))
	seed := h.Sum32()

	from := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 0xff}
	to := color.RGBA{R: 0xff - from.R, G: 0xff - from.G, B: 0xff - from.B, A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	span := p.Width + p.Height - 2
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			t := float64(x+y) / float64(span)
			img.SetRGBA(x, y, color.RGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 0xff,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
