package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outcome-engine/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. The job
// document's nested parts (progress, output, error, snapshot) are stored as
// JSONB; status guards on every update enforce the state machine at the
// store, so a terminal job can never be moved again even by a racing write.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new pending job, conditionally: inside one transaction it
// locks the session row, verifies no other job for the session is still
// active, and only then writes. This is the check-and-set behind the
// at-most-one-active-job-per-session invariant.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin admission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var sessionID string
	lockQuery := `
SELECT id FROM sessions
WHERE project_id = $1 AND id = $2
FOR UPDATE;
`
	if err := tx.QueryRow(ctx, lockQuery, job.ProjectID, job.SessionID).Scan(&sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("lock session: %w", err)
	}

	var activeExists bool
	activeQuery := `
SELECT EXISTS (
	SELECT 1 FROM jobs
	WHERE session_id = $1 AND status IN ('pending', 'running')
);
`
	if err := tx.QueryRow(ctx, activeQuery, job.SessionID).Scan(&activeExists); err != nil {
		return fmt.Errorf("check active job: %w", err)
	}
	if activeExists {
		return domain.ErrJobInProgress
	}

	snapshot, err := json.Marshal(job.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	insertQuery := `
INSERT INTO jobs (id, project_id, session_id, experience_id, step_id, status, snapshot, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8);
`
	if _, err := tx.Exec(ctx, insertQuery,
		job.ID,
		job.ProjectID,
		job.SessionID,
		job.ExperienceID,
		nullableText(job.StepID),
		job.Status,
		snapshot,
		job.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return tx.Commit(ctx)
}

// GetByID fetches a job document.
func (r *JobRepositoryPG) GetByID(ctx context.Context, projectID, jobID string) (*domain.Job, error) {
	query := `
SELECT id, project_id, session_id, experience_id, COALESCE(step_id, ''), status,
       progress, output, error, snapshot, created_at, updated_at, started_at, completed_at
FROM jobs
WHERE project_id = $1 AND id = $2;
`
	row := r.pool.QueryRow(ctx, query, projectID, jobID)

	var (
		job         domain.Job
		progressRaw []byte
		outputRaw   []byte
		errorRaw    []byte
		snapshotRaw []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.SessionID,
		&job.ExperienceID,
		&job.StepID,
		&job.Status,
		&progressRaw,
		&outputRaw,
		&errorRaw,
		&snapshotRaw,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if err := decodeInto(progressRaw, &job.Progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if err := decodeInto(outputRaw, &job.Output); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	if err := decodeInto(errorRaw, &job.Error); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	if len(snapshotRaw) > 0 {
		if err := json.Unmarshal(snapshotRaw, &job.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	return &job, nil
}

// MarkRunning transitions pending|running -> running. Returns
// domain.ErrNotFound when the job is no longer runnable (cancelled or
// already terminal), which callers treat as a cooperative no-op.
func (r *JobRepositoryPG) MarkRunning(ctx context.Context, jobID string, startedAt time.Time, progress domain.JobProgress) error {
	progressRaw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := `
UPDATE jobs
SET status = 'running',
    started_at = $2,
    progress = $3,
    updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'running');
`
	tag, err := r.pool.Exec(ctx, query, jobID, startedAt, progressRaw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateProgress records a progress report. Silently skipped once the job
// has left running.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, progress domain.JobProgress) error {
	progressRaw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := `
UPDATE jobs
SET progress = $2, updated_at = NOW()
WHERE id = $1 AND status = 'running';
`
	_, err = r.pool.Exec(ctx, query, jobID, progressRaw)
	return err
}

// MarkCompleted transitions running -> completed. A job cancelled in the
// meantime is left untouched; the unmatched guard is reported as
// domain.ErrNotFound so callers know the transition did not land.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string, output domain.JobOutput) error {
	outputRaw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	query := `
UPDATE jobs
SET status = 'completed',
    output = $2,
    error = NULL,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = 'running';
`
	tag, err := r.pool.Exec(ctx, query, jobID, outputRaw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed transitions pending|running -> failed. Terminal jobs are left
// untouched and reported as domain.ErrNotFound.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, jobErr domain.JobError) error {
	errorRaw, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	query := `
UPDATE jobs
SET status = 'failed',
    error = $2,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'running');
`
	tag, err := r.pool.Exec(ctx, query, jobID, errorRaw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Cancel moves a pending or running job to cancelled. Returns
// domain.ErrNotFound when the job does not exist or is already terminal.
func (r *JobRepositoryPG) Cancel(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'cancelled',
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'running');
`
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func decodeInto[T any](raw []byte, dst **T) error {
	if len(raw) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
