package job

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ResultStatus is the outcome carried by a result message.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// RequestMessage is published once per job to the request queue.
type RequestMessage struct {
	ID      uuid.UUID `json:"id"`
	Request Payload   `json:"request"`
}

// ResultMessage is published by a worker to the response queue.
// Error is set only for failures and is never required.
type ResultMessage struct {
	ID       uuid.UUID    `json:"id"`
	Response Payload      `json:"response"`
	Status   ResultStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

// NewRequestMessage builds the request message for a stored job.
func NewRequestMessage(j *Job) RequestMessage {
	return RequestMessage{ID: j.ID, Request: j.RequestData}
}

// DecodeRequestMessage parses and checks a request message body.
func DecodeRequestMessage(body []byte) (*RequestMessage, error) {
	var msg RequestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}
	if msg.Request.IsNull() {
		return nil, fmt.Errorf("%w: missing request", ErrMalformedMessage)
	}
	return &msg, nil
}

// MissingArtifactReason is recorded when a worker reports success without
// an artifact reference.
const MissingArtifactReason = "missing artifact reference"

// DecodeResultMessage parses and checks a result message body.
//
// A message without a status is read from its response, matching workers
// that only reply {id, response}: a response means completed, a null
// response means the worker gave up. A completed message with a null
// response is treated as failed so a COMPLETED job always has a result.
func DecodeResultMessage(body []byte) (*ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}

	switch msg.Status {
	case ResultFailed:
		msg.Response = nil
	case ResultCompleted, "":
		if msg.Response.IsNull() {
			msg.Status = ResultFailed
			msg.Response = nil
			if msg.Error == "" {
				msg.Error = MissingArtifactReason
			}
			break
		}
		msg.Status = ResultCompleted
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedMessage, msg.Status)
	}

	return &msg, nil
}

// TerminalStatus maps the message outcome onto the job state machine.
func (m *ResultMessage) TerminalStatus() Status {
	if m.Status == ResultFailed {
		return StatusFailed
	}
	return StatusCompleted
}

// Reason returns the failure reason, or nil when there is none.
func (m *ResultMessage) Reason() *string {
	if m.Status != ResultFailed || m.Error == "" {
		return nil
	}
	reason := m.Error
	return &reason
}

// Completed builds a success result carrying an artifact reference.
func Completed(id uuid.UUID, artifact string) (ResultMessage, error) {
	ref, err := json.Marshal(artifact)
	if err != nil {
		return ResultMessage{}, fmt.Errorf("failed to marshal artifact reference: %w", err)
	}
	return ResultMessage{ID: id, Response: ref, Status: ResultCompleted}, nil
}

// Failed builds a failure result with a reason and no response.
func Failed(id uuid.UUID, reason string) ResultMessage {
	return ResultMessage{ID: id, Status: ResultFailed, Error: reason}
}
