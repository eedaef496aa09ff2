package job

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the persisted record of one unit of submitted compute work.
// Its ID doubles as the correlation id of every queue message about it.
type Job struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Status       Status     `db:"status" json:"status"`
	RequestData  Payload    `db:"request_data" json:"request_data"`
	ResponseData Payload    `db:"response_data" json:"response_data"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	WebhookURL   *string    `db:"webhook_url" json:"webhook_url,omitempty"`
	EnqueuedAt   *time.Time `db:"enqueued_at" json:"enqueued_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// New creates a PENDING job with a fresh id for the given compute parameters.
func New(request Payload, webhookURL *string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Status:      StatusPending,
		RequestData: request,
		WebhookURL:  webhookURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasCallback reports whether a webhook should be notified on completion.
func (j *Job) HasCallback() bool {
	return j.WebhookURL != nil && *j.WebhookURL != ""
}

// Payload is an opaque JSON document stored in a json column.
// A nil Payload maps to SQL NULL and JSON null.
type Payload []byte

// Value implements driver.Valuer. JSON is sent as text so lib/pq does not
// encode it as bytea.
func (p Payload) Value() (driver.Value, error) {
	if p.IsNull() {
		return nil, nil
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(Payload(nil), v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", src)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsNull() {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// IsNull reports whether the payload is absent or the JSON literal null.
func (p Payload) IsNull() bool {
	return len(p) == 0 || string(p) == "null"
}
