package domain

import "context"

// JobRepository defines persistence for job records. The store is the
// single source of truth shared by the gateway and the worker; every
// method is an atomic per-job write or read.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// MarkRunning transitions the job to running and clears any stale
	// derived fields left over from a previous delivery attempt.
	MarkRunning(ctx context.Context, jobID string) error
	// SetDerivedPrompt records the prompt stage's output while the job is
	// still running, so a later stage failure keeps the partial progress.
	SetDerivedPrompt(ctx context.Context, jobID, derivedPrompt string) error
	// Complete transitions the job to done and records both outputs.
	Complete(ctx context.Context, jobID, derivedPrompt, resultURL string) error
	// Fail transitions the job to error, preserving whatever derived
	// fields earlier stages already produced.
	Fail(ctx context.Context, jobID, errMsg string) error
}
