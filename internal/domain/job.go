package domain

import "time"

// JobStatus is the state of a background finalize job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// IsTerminal returns true once the job will not change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// FinalizeJob tracks one asynchronous setup handshake.
type FinalizeJob struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	OwnerID   string    `json:"owner_id"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
