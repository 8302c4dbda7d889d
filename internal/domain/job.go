package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the status counts against the one-active-job-per-
// session admission limit.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobProgress is the free-form progress report surfaced while a job runs.
// Percentage is monotonic within one attempt.
type JobProgress struct {
	CurrentStep string `json:"current_step"`
	Percentage  int    `json:"percentage"`
	Message     string `json:"message,omitempty"`
}

// JobOutput describes the finished artifact. Set only on completed jobs.
type JobOutput struct {
	AssetID          string `json:"asset_id"`
	URL              string `json:"url"`
	Format           string `json:"format"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	SizeBytes        int64  `json:"size_bytes"`
	ThumbnailURL     string `json:"thumbnail_url,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// JobError is the client-visible failure record. Message holds the fixed
// sanitized text for the kind, never raw error detail.
type JobError struct {
	Code        ErrorKind `json:"code"`
	Message     string    `json:"message"`
	Step        string    `json:"step,omitempty"`
	IsRetryable bool      `json:"is_retryable"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventContext captures the event-level context a job runs under, frozen at
// admission.
type EventContext struct {
	EventID string `json:"event_id,omitempty"`
	Locale  string `json:"locale,omitempty"`
	Country string `json:"country,omitempty"`
}

// SnapshotVersions records which schema and engine versions produced the
// snapshot, for forensics on historical job documents.
type SnapshotVersions struct {
	OutcomeSchema int    `json:"outcome_schema"`
	Engine        string `json:"engine"`
}

// JobSnapshot is the immutable copy of configuration and inputs captured at
// admission. Execution reads only the snapshot, never live configuration, so
// a job always runs the configuration that existed when it was admitted.
type JobSnapshot struct {
	SessionResponses map[string]StepResponse `json:"session_responses"`
	OutcomeConfig    Outcome                 `json:"outcome_config"`
	EventContext     EventContext            `json:"event_context"`
	Versions         SnapshotVersions        `json:"versions"`
}

// Job is a single outcome-production execution record. Created pending by
// admission, mutated only by the lifecycle runner afterwards; retention and
// cleanup are external concerns.
type Job struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	SessionID    string       `json:"session_id"`
	ExperienceID string       `json:"experience_id"`
	StepID       string       `json:"step_id,omitempty"`
	Status       JobStatus    `json:"status"`
	Progress     *JobProgress `json:"progress,omitempty"`
	Output       *JobOutput   `json:"output,omitempty"`
	Error        *JobError    `json:"error,omitempty"`
	Snapshot     JobSnapshot  `json:"snapshot"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}
