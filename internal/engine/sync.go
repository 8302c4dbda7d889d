package engine

import (
	"context"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/infra"
)

// Synchronizer mirrors job status onto the session's two job fields so a
// polling or subscribing client only ever watches the lightweight session
// document. It is the sole writer of those fields and is called at exactly
// four lifecycle points: admission, start, success, failure. Each write is
// idempotent, so duplicate delivery of the same transition is safe.
type Synchronizer struct {
	sessions domain.SessionRepository
	logger   infra.Logger
}

func NewSynchronizer(sessions domain.SessionRepository, logger infra.Logger) *Synchronizer {
	return &Synchronizer{sessions: sessions, logger: logger}
}

// Sync sets the session's jobId/jobStatus mirror to the job's current
// status.
func (s *Synchronizer) Sync(ctx context.Context, projectID, sessionID, jobID string, status domain.JobStatus) error {
	if err := s.sessions.SyncJob(ctx, projectID, sessionID, jobID, status); err != nil {
		s.logger.Error().Err(err).
			Str("project_id", projectID).
			Str("session_id", sessionID).
			Str("job_id", jobID).
			Str("status", string(status)).
			Msg("engine: session mirror write failed")
		return err
	}
	return nil
}
