// Package jobs implements the distributed job manager: submissions and
// results live in a shared broker (see internal/broker), workers in any
// process claim ids off the submission lists and execute them through the
// service registry and the shared resource pool. Job documents carry a
// serializable kind tag, never code.
package jobs

import "time"

// Status is the lifecycle state of a job document.
type Status string

const (
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
	StatusCanceled   Status = "CANCELED"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCanceled:
		return true
	}
	return false
}

// Broker list names. Sync submissions are always drained before async ones.
const (
	ListSync  = "submissions"
	ListAsync = "async_submissions"
)

// Document is the broker-persisted record of one job.
type Document struct {
	ID     string         `json:"id"`
	Kind   string         `json:"kind"`
	Method string         `json:"method,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Async  bool           `json:"async"`
	Status Status         `json:"status"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func jobKey(id string) string { return "job:" + id }
