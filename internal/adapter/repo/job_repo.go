package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mydiary/ai-service/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Every
// mutation is a single statement, so concurrent gateway and worker writes
// to the same job row stay consistent without extra locking.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS jobs (
  id             TEXT PRIMARY KEY,
  status         TEXT NOT NULL,
  input_text     TEXT NOT NULL,
  derived_prompt TEXT NOT NULL DEFAULT '',
  result_url     TEXT NOT NULL DEFAULT '',
  error_message  TEXT NOT NULL DEFAULT '',
  created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	return err
}

// Create inserts a new job record with status=queued.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, status, input_text, derived_prompt, result_url, error_message)
VALUES ($1, $2, $3, '', '', '');
`
	_, err := r.pool.Exec(ctx, query, job.ID, job.Status, job.InputText)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrAlreadyExists
	}
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, status, input_text, derived_prompt, result_url, error_message, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.InputText,
		&job.DerivedPrompt,
		&job.ResultURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// MarkRunning transitions the job to running and resets the derived
// fields. Redelivered jobs start from a clean slate.
func (r *JobRepositoryPG) MarkRunning(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = $2,
    derived_prompt = '',
    result_url = '',
    error_message = '',
    updated_at = NOW()
WHERE id = $1;
`
	return r.exec(ctx, query, jobID, domain.JobStatusRunning)
}

// SetDerivedPrompt records the prompt stage's output on a running job.
func (r *JobRepositoryPG) SetDerivedPrompt(ctx context.Context, jobID, derivedPrompt string) error {
	query := `
UPDATE jobs
SET derived_prompt = $2,
    updated_at = NOW()
WHERE id = $1;
`
	return r.exec(ctx, query, jobID, derivedPrompt)
}

// Complete transitions the job to done and records both pipeline outputs.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID, derivedPrompt, resultURL string) error {
	query := `
UPDATE jobs
SET status = $2,
    derived_prompt = $3,
    result_url = $4,
    error_message = '',
    updated_at = NOW()
WHERE id = $1;
`
	return r.exec(ctx, query, jobID, domain.JobStatusDone, derivedPrompt, resultURL)
}

// Fail transitions the job to error. Derived fields written by earlier
// stages are kept for diagnostics.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID, errMsg string) error {
	query := `
UPDATE jobs
SET status = $2,
    error_message = $3,
    updated_at = NOW()
WHERE id = $1;
`
	return r.exec(ctx, query, jobID, domain.JobStatusError, errMsg)
}

func (r *JobRepositoryPG) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
