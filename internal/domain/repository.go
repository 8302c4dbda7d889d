package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job documents. Create is the single
// conditional write: it admits the job only while its session has no other
// active job, returning ErrJobInProgress otherwise. The Mark* writes are
// guarded so a terminal job is never moved again; a write whose guard does
// not match reports ErrNotFound so the caller can skip follow-up effects
// such as the session mirror.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, projectID, jobID string) (*Job, error)
	MarkRunning(ctx context.Context, jobID string, startedAt time.Time, progress JobProgress) error
	UpdateProgress(ctx context.Context, jobID string, progress JobProgress) error
	MarkCompleted(ctx context.Context, jobID string, output JobOutput) error
	MarkFailed(ctx context.Context, jobID string, jobErr JobError) error
	Cancel(ctx context.Context, jobID string) error
}

// SessionRepository exposes the narrow session surface this engine touches:
// reads for admission and the two-field job mirror write.
type SessionRepository interface {
	GetByID(ctx context.Context, projectID, sessionID string) (*Session, error)
	SyncJob(ctx context.Context, projectID, sessionID, jobID string, status JobStatus) error
}

// ExperienceRepository resolves the configured outcome for an experience.
type ExperienceRepository interface {
	GetOutcome(ctx context.Context, projectID, experienceID string) (*Outcome, error)
}
