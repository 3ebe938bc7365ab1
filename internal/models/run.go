package models

import (
	"time"
)

// RunState enumerates the lifecycle states of a job run persisted in Postgres.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Terminal reports whether no further state transitions are permitted.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// JobRun is one execution attempt of one job type. The collector process owns
// and mutates its run exclusively; the store is a passive sink keyed by
// (job_type, run_id).
type JobRun struct {
	RunID           string     `json:"run_id"`
	JobType         string     `json:"job_type"`
	State           RunState   `json:"state"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CurrentActivity string     `json:"current_activity,omitempty"`
	CurrentDetail   string     `json:"current_detail,omitempty"`
	ItemsFound      int        `json:"items_found"`
	ItemsSaved      int        `json:"items_saved"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	ResultCount     *int       `json:"result_count,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
