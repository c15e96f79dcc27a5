package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// CanTransition reports whether moving from one status to another is a
// legal lifecycle step. Statuses are monotonic: a job never re-enters
// queued, and done/error are final.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusDone || to == JobStatusError
	default:
		return false
	}
}

// Job encapsulates the lifecycle of one diary illustration request.
// DerivedPrompt and ResultURL stay empty until the corresponding pipeline
// stage completes; ErrorMessage is set only on failed jobs.
type Job struct {
	ID            string
	Status        JobStatus
	InputText     string
	DerivedPrompt string
	ResultURL     string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
