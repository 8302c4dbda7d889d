package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/infra"
)

// TaskQueue is the enqueue-side surface of the external task queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, task TaskPayload, delay time.Duration) error
}

// CreateRequest is a validated admission request. EventContext carries the
// caller's locale/region, detected at the transport layer.
type CreateRequest struct {
	ProjectID    string
	SessionID    string
	StepID       string
	EventContext domain.EventContext
}

// Intake admits outcome-generation jobs. Admission either creates a fully
// enqueued pending job or nothing at all: every precondition failure is
// returned synchronously before a job document exists, and an enqueue
// failure after creation marks the job failed so it cannot linger pending
// with no worker ever coming.
type Intake struct {
	sessions    domain.SessionRepository
	experiences domain.ExperienceRepository
	jobs        domain.JobRepository
	queue       TaskQueue
	sync        *Synchronizer
	logger      infra.Logger
}

func NewIntake(
	sessions domain.SessionRepository,
	experiences domain.ExperienceRepository,
	jobs domain.JobRepository,
	queue TaskQueue,
	sync *Synchronizer,
	logger infra.Logger,
) *Intake {
	return &Intake{
		sessions:    sessions,
		experiences: experiences,
		jobs:        jobs,
		queue:       queue,
		sync:        sync,
		logger:      logger,
	}
}

// Create validates the request, snapshots the live configuration, creates
// the job pending, mirrors it onto the session and enqueues the task.
// Returns the new job id.
func (s *Intake) Create(ctx context.Context, req CreateRequest) (string, error) {
	session, err := s.sessions.GetByID(ctx, req.ProjectID, req.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("session %s: %w", req.SessionID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("load session: %w", err)
	}

	// Fast pre-check against the mirror; the authoritative check-and-set
	// happens inside the job repository's conditional create.
	if session.HasActiveJob() {
		return "", domain.ErrJobInProgress
	}

	outcome, err := s.experiences.GetOutcome(ctx, req.ProjectID, session.ExperienceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrOutcomeNotConfigured
		}
		return "", fmt.Errorf("load outcome: %w", err)
	}
	if err := outcome.Validate(); err != nil {
		return "", err
	}

	snapshot, err := buildSnapshot(session, outcome, req.EventContext)
	if err != nil {
		return "", fmt.Errorf("build snapshot: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		SessionID:    session.ID,
		ExperienceID: session.ExperienceID,
		StepID:       req.StepID,
		Status:       domain.JobStatusPending,
		Snapshot:     *snapshot,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", err
	}
	_ = s.sync.Sync(ctx, job.ProjectID, job.SessionID, job.ID, domain.JobStatusPending)

	task := TaskPayload{JobID: job.ID, SessionID: job.SessionID, ProjectID: job.ProjectID}
	if err := s.queue.Enqueue(ctx, task, 0); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("intake: enqueue failed, failing job")
		s.compensate(ctx, job)
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", job.SessionID).
		Str("outcome_type", string(outcome.Type)).
		Msg("intake: job admitted")
	return job.ID, nil
}

// compensate closes out a job whose task could never be enqueued, so no
// admission leaves a pending job behind on failure.
func (s *Intake) compensate(ctx context.Context, job *domain.Job) {
	jobErr := domain.JobError{
		Code:        domain.ErrorKindUnknown,
		Message:     domain.ClientMessage(domain.ErrorKindUnknown),
		IsRetryable: false,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.jobs.MarkFailed(ctx, job.ID, jobErr); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("intake: compensation mark failed")
		return
	}
	_ = s.sync.Sync(ctx, job.ProjectID, job.SessionID, job.ID, domain.JobStatusFailed)
}

// buildSnapshot deep-copies the inputs so later edits to the live session
// or experience configuration cannot reach an admitted job.
func buildSnapshot(session *domain.Session, outcome *domain.Outcome, eventCtx domain.EventContext) (*domain.JobSnapshot, error) {
	responses := make(map[string]domain.StepResponse, len(session.Responses))
	for stepID, resp := range session.Responses {
		responses[stepID] = resp
	}

	var frozen domain.Outcome
	raw, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("freeze outcome config: %w", err)
	}
	if err := json.Unmarshal(raw, &frozen); err != nil {
		return nil, fmt.Errorf("freeze outcome config: %w", err)
	}

	if eventCtx.EventID == "" {
		eventCtx.EventID = session.EventID
	}

	return &domain.JobSnapshot{
		SessionResponses: responses,
		OutcomeConfig:    frozen,
		EventContext:     eventCtx,
		Versions: domain.SnapshotVersions{
			OutcomeSchema: domain.OutcomeSchemaVersion,
			Engine:        Version,
		},
	}, nil
}
