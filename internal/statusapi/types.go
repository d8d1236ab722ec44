// File: internal/statusapi/types.go
package statusapi

import (
	"time"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Status string      `json:"status"` // "success", "error", "accepted"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// JobStatus is the lifecycle of a tracked application attempt.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
)

// Finished reports whether the status is final.
func (s JobStatus) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is the externally visible state of one task.
type Job struct {
	TaskID      string                      `json:"task_id"`
	Target      string                      `json:"target_url"`
	Status      JobStatus                   `json:"status"`
	Latest      *schemas.Progress           `json:"latest,omitempty"`
	Outcome     *schemas.ApplicationOutcome `json:"outcome,omitempty"`
	Error       string                      `json:"error,omitempty"`
	SubmittedAt time.Time                   `json:"submitted_at"`
	StartedAt   *time.Time                  `json:"started_at,omitempty"`
	FinishedAt  *time.Time                  `json:"finished_at,omitempty"`
}
