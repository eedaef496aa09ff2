// Package compute holds the capability a worker invokes for each job.
package compute

import (
	"context"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/google/uuid"
)

// Outcome is the result of one execution: either an artifact reference or
// a failure reason
type Outcome struct {
	ArtifactRef string
	Reason      string
	Failed      bool
}

// Success returns a successful outcome carrying ref
func Success(ref string) Outcome {
	return Outcome{ArtifactRef: ref}
}

// Failure returns a failed outcome
func Failure(reason string) Outcome {
	return Outcome{Reason: reason, Failed: true}
}

// Executor runs the compute step for one job. Implementations must honour
// ctx cancellation and report every problem through the returned Outcome.
type Executor interface {
	Execute(ctx context.Context, id uuid.UUID, params job.Payload) Outcome
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, id uuid.UUID, params job.Payload) Outcome

// Execute calls f(ctx, id, params)
func (f ExecutorFunc) Execute(ctx context.Context, id uuid.UUID, params job.Payload) Outcome {
	return f(ctx, id, params)
}
