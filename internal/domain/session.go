package domain

import "time"

// ResponseKind enumerates the step-response shapes the engine consumes.
type ResponseKind string

const (
	ResponseKindText    ResponseKind = "text"
	ResponseKindChoice  ResponseKind = "choice"
	ResponseKindCapture ResponseKind = "capture"
)

// StepResponse is one recorded guest answer, keyed by step id. Choice
// responses may carry a configured prompt fragment and reference image for
// the selected option; capture responses carry the stored asset location.
type StepResponse struct {
	StepID         string       `json:"step_id"`
	Kind           ResponseKind `json:"kind"`
	Value          string       `json:"value,omitempty"`
	PromptFragment string       `json:"prompt_fragment,omitempty"`
	AssetID        string       `json:"asset_id,omitempty"`
	AssetPath      string       `json:"asset_path,omitempty"`
}

// Session is the job-relevant slice of the guest session aggregate. JobID
// and JobStatus mirror the active job and are written only by the
// session-job synchronizer.
type Session struct {
	ID           string                  `json:"id"`
	ProjectID    string                  `json:"project_id"`
	EventID      string                  `json:"event_id,omitempty"`
	ExperienceID string                  `json:"experience_id"`
	JobID        string                  `json:"job_id,omitempty"`
	JobStatus    JobStatus               `json:"job_status,omitempty"`
	Responses    map[string]StepResponse `json:"responses"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// HasActiveJob reports whether the mirrored job status blocks a new
// admission.
func (s *Session) HasActiveJob() bool {
	return s != nil && s.JobStatus.Active() && s.JobID != ""
}
