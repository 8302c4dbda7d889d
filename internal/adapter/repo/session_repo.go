package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outcome-engine/internal/domain"
)

// SessionRepositoryPG implements domain.SessionRepository. Only the
// job-relevant slice of the session aggregate is read, and only the two
// mirror fields are ever written.
type SessionRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepositoryPG {
	return &SessionRepositoryPG{pool: pool}
}

// GetByID fetches the job-relevant session slice.
func (r *SessionRepositoryPG) GetByID(ctx context.Context, projectID, sessionID string) (*domain.Session, error) {
	query := `
SELECT id, project_id, COALESCE(event_id, ''), experience_id,
       COALESCE(job_id, ''), COALESCE(job_status, ''), responses, created_at, updated_at
FROM sessions
WHERE project_id = $1 AND id = $2;
`
	row := r.pool.QueryRow(ctx, query, projectID, sessionID)

	var (
		session      domain.Session
		responsesRaw []byte
	)
	if err := row.Scan(
		&session.ID,
		&session.ProjectID,
		&session.EventID,
		&session.ExperienceID,
		&session.JobID,
		&session.JobStatus,
		&responsesRaw,
		&session.CreatedAt,
		&session.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	session.Responses = map[string]domain.StepResponse{}
	if len(responsesRaw) > 0 {
		if err := json.Unmarshal(responsesRaw, &session.Responses); err != nil {
			return nil, fmt.Errorf("decode responses: %w", err)
		}
	}
	return &session, nil
}

// SyncJob writes the session's jobId/jobStatus mirror. The write is
// idempotent: repeating the same transition is a no-op at the data level.
func (r *SessionRepositoryPG) SyncJob(ctx context.Context, projectID, sessionID, jobID string, status domain.JobStatus) error {
	query := `
UPDATE sessions
SET job_id = $3, job_status = $4, updated_at = NOW()
WHERE project_id = $1 AND id = $2;
`
	tag, err := r.pool.Exec(ctx, query, projectID, sessionID, jobID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.SessionRepository = (*SessionRepositoryPG)(nil)
