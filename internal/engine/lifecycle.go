package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/executor"
	"outcome-engine/internal/infra"
)

// Version is recorded into job snapshots for forensics on old documents.
const Version = "1.4.0"

// TaskPayload is the queue dispatch contract between admission and workers.
type TaskPayload struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
}

// ScratchPurger releases per-job scratch staging from the object store.
type ScratchPurger interface {
	Purge(ctx context.Context, prefix string) error
}

// Runner owns the job state machine for one execution attempt:
// pending -> running -> completed|failed, with cancelled entered only by an
// external request. Attempts are single-shot: the queue enforces the
// wall-clock ceiling and delivers zero retries, so the runner carries no
// retry loop and no clock of its own. A hard external timeout can therefore
// leave a job stranded in running; there is no automatic remediation.
type Runner struct {
	jobs      domain.JobRepository
	sync      *Synchronizer
	registry  *executor.Registry
	store     executor.ObjectStore
	generator executor.Generator
	purger    ScratchPurger
	logger    infra.Logger
}

func NewRunner(
	jobs domain.JobRepository,
	sync *Synchronizer,
	registry *executor.Registry,
	store executor.ObjectStore,
	generator executor.Generator,
	purger ScratchPurger,
	logger infra.Logger,
) *Runner {
	return &Runner{
		jobs:      jobs,
		sync:      sync,
		registry:  registry,
		store:     store,
		generator: generator,
		purger:    purger,
		logger:    logger,
	}
}

// Run executes one delivery of a task payload.
//
// Terminal jobs are skipped silently: the queue is at-least-once and a
// duplicate delivery must not re-upload an artifact or touch status. A job
// found already running is executed anyway, as recovery of a possibly
// crashed prior attempt; with retries disabled nothing else would ever
// finish it.
func (r *Runner) Run(ctx context.Context, task TaskPayload) error {
	job, err := r.jobs.GetByID(ctx, task.ProjectID, task.JobID)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", task.JobID).Msg("engine: load job failed")
		return err
	}
	if job.Status.Terminal() {
		r.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("engine: skipping terminal job")
		return nil
	}
	if job.Status == domain.JobStatusRunning {
		r.logger.Warn().Str("job_id", job.ID).Msg("engine: re-running job left in running state")
	}

	startedAt := time.Now().UTC()
	if err := r.jobs.MarkRunning(ctx, job.ID, startedAt, domain.JobProgress{CurrentStep: "starting", Percentage: 0}); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Cancelled (or finished) between load and start: cooperative no-op.
			r.logger.Info().Str("job_id", job.ID).Msg("engine: job no longer runnable")
			return nil
		}
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("engine: mark running failed")
		return err
	}
	_ = r.sync.Sync(ctx, job.ProjectID, job.SessionID, job.ID, domain.JobStatusRunning)

	defer func() {
		if r.purger == nil {
			return
		}
		// Unconditional scratch release, success and failure alike. Detached
		// context so cleanup still runs when the attempt was cancelled.
		purgeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.purger.Purge(purgeCtx, "scratch/"+job.ID); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("engine: scratch purge failed")
		}
	}()

	lastStep := "starting"
	lastPercentage := 0
	progress := func(step string, percentage int, message string) {
		if percentage < lastPercentage {
			percentage = lastPercentage
		}
		lastStep, lastPercentage = step, percentage
		if err := r.jobs.UpdateProgress(ctx, job.ID, domain.JobProgress{CurrentStep: step, Percentage: percentage, Message: message}); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("engine: progress update failed")
		}
	}

	artifact, execErr := r.registry.Dispatch(ctx, executor.ExecContext{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		SessionID: job.SessionID,
		Snapshot:  job.Snapshot,
		Store:     r.store,
		Generator: r.generator,
		Progress:  progress,
		Logger:    r.logger,
	})
	if execErr != nil {
		return r.fail(ctx, job, lastStep, startedAt, execErr)
	}
	return r.complete(ctx, job, artifact, startedAt)
}

func (r *Runner) complete(ctx context.Context, job *domain.Job, artifact *executor.Artifact, startedAt time.Time) error {
	output := domain.JobOutput{
		AssetID:          artifact.AssetID,
		URL:              artifact.URL,
		Format:           artifact.Format,
		Width:            artifact.Width,
		Height:           artifact.Height,
		SizeBytes:        artifact.SizeBytes,
		ProcessingTimeMs: time.Since(startedAt).Milliseconds(),
	}
	if err := r.jobs.MarkCompleted(ctx, job.ID, output); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Cancelled while the attempt ran. The artifact stays uploaded but
			// the job keeps its terminal state, and the mirror must not claim
			// a completion that never landed.
			r.logger.Info().Str("job_id", job.ID).Msg("engine: job no longer running, completion dropped")
			return nil
		}
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("engine: mark completed failed")
		return err
	}
	_ = r.sync.Sync(ctx, job.ProjectID, job.SessionID, job.ID, domain.JobStatusCompleted)
	r.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", job.SessionID).
		Int64("duration_ms", output.ProcessingTimeMs).
		Msg("engine: job completed")
	return nil
}

// fail classifies the error, logs the full detail on the operator channel,
// and persists only the fixed sanitized message for the kind. Raw error
// text can carry prompt fragments or storage paths, so it never lands in
// the job document.
func (r *Runner) fail(ctx context.Context, job *domain.Job, step string, startedAt time.Time, execErr error) error {
	kind := domain.Classify(execErr)

	r.logger.Error().Err(execErr).
		Str("job_id", job.ID).
		Str("session_id", job.SessionID).
		Str("project_id", job.ProjectID).
		Str("kind", string(kind)).
		Str("step", step).
		Int64("duration_ms", time.Since(startedAt).Milliseconds()).
		Msg("engine: job failed")

	// When the attempt died to its deadline the original context is spent;
	// flush the terminal state on a detached one so the job is not stranded
	// in running.
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	jobErr := domain.JobError{
		Code:        kind,
		Message:     domain.ClientMessage(kind),
		Step:        step,
		IsRetryable: false,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.jobs.MarkFailed(writeCtx, job.ID, jobErr); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Already cancelled (or otherwise terminal): the failure write is
			// a no-op and the mirror keeps the state that actually holds.
			r.logger.Info().Str("job_id", job.ID).Msg("engine: job already terminal, failure dropped")
			return execErr
		}
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("engine: mark failed failed")
		return fmt.Errorf("persist failure: %w", err)
	}
	_ = r.sync.Sync(writeCtx, job.ProjectID, job.SessionID, job.ID, domain.JobStatusFailed)
	return execErr
}
