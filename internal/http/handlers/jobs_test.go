package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/engine"
)

type fakeSessionRepo struct {
	session *domain.Session
	err     error
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, projectID, sessionID string) (*domain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeSessionRepo) SyncJob(ctx context.Context, projectID, sessionID, jobID string, status domain.JobStatus) error {
	return nil
}

type fakeExperienceRepo struct {
	outcome *domain.Outcome
	err     error
}

func (f *fakeExperienceRepo) GetOutcome(ctx context.Context, projectID, experienceID string) (*domain.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeJobRepo struct {
	job       *domain.Job
	getErr    error
	cancelErr error
	created   *domain.Job
}

func (f *fakeJobRepo) Create(ctx context.Context, job *domain.Job) error {
	f.created = job
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, projectID, jobID string) (*domain.Job, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.job, nil
}

func (f *fakeJobRepo) MarkRunning(ctx context.Context, jobID string, startedAt time.Time, progress domain.JobProgress) error {
	return nil
}

func (f *fakeJobRepo) UpdateProgress(ctx context.Context, jobID string, progress domain.JobProgress) error {
	return nil
}

func (f *fakeJobRepo) MarkCompleted(ctx context.Context, jobID string, output domain.JobOutput) error {
	return nil
}

func (f *fakeJobRepo) MarkFailed(ctx context.Context, jobID string, jobErr domain.JobError) error {
	return nil
}

func (f *fakeJobRepo) Cancel(ctx context.Context, jobID string) error {
	return f.cancelErr
}

type fakeQueue struct{ err error }

func (f *fakeQueue) Enqueue(ctx context.Context, task engine.TaskPayload, delay time.Duration) error {
	return f.err
}

func newTestApp(sessions *fakeSessionRepo, experiences *fakeExperienceRepo, jobs *fakeJobRepo) *App {
	logger := zerolog.Nop()
	sync := engine.NewSynchronizer(sessions, logger)
	intake := engine.NewIntake(sessions, experiences, jobs, &fakeQueue{}, sync, logger)
	return NewApp(intake, jobs, logger)
}

func photoSession() *domain.Session {
	return &domain.Session{
		ID:           "sess-1",
		ProjectID:    "proj-1",
		ExperienceID: "exp-1",
		Responses: map[string]domain.StepResponse{
			"cap-1": {StepID: "cap-1", Kind: domain.ResponseKindCapture, AssetPath: "captures/a.png"},
		},
	}
}

func photoOutcome() *domain.Outcome {
	return &domain.Outcome{
		Type:  domain.OutcomeTypePhoto,
		Photo: &domain.PhotoConfig{CaptureStepID: "cap-1"},
	}
}

func doCreate(t *testing.T, app *App, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/outcome-jobs", strings.NewReader(body))
	req.Header.Set("X-Project-ID", "proj-1")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("session_id", "sess-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	app.OutcomeJobCreate(rec, req)
	return rec
}

func TestOutcomeJobCreateAccepted(t *testing.T) {
	jobs := &fakeJobRepo{}
	app := newTestApp(&fakeSessionRepo{session: photoSession()}, &fakeExperienceRepo{outcome: photoOutcome()}, jobs)

	rec := doCreate(t, app, `{"step_id":"review-1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("expected a job id in the response")
	}
	if jobs.created == nil || jobs.created.ID != resp.JobID {
		t.Fatalf("created job mismatch: %+v vs %q", jobs.created, resp.JobID)
	}
}

func TestOutcomeJobCreateMissingProject(t *testing.T) {
	app := newTestApp(&fakeSessionRepo{session: photoSession()}, &fakeExperienceRepo{outcome: photoOutcome()}, &fakeJobRepo{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/outcome-jobs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	app.OutcomeJobCreate(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestOutcomeJobCreateSessionNotFound(t *testing.T) {
	app := newTestApp(&fakeSessionRepo{err: domain.ErrNotFound}, &fakeExperienceRepo{outcome: photoOutcome()}, &fakeJobRepo{})

	rec := doCreate(t, app, `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "SESSION_NOT_FOUND") {
		t.Fatalf("body = %s, want SESSION_NOT_FOUND", rec.Body.String())
	}
}

func TestOutcomeJobCreateConflict(t *testing.T) {
	sess := photoSession()
	sess.JobID = "job-0"
	sess.JobStatus = domain.JobStatusRunning
	app := newTestApp(&fakeSessionRepo{session: sess}, &fakeExperienceRepo{outcome: photoOutcome()}, &fakeJobRepo{})

	rec := doCreate(t, app, `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if !strings.Contains(rec.Body.String(), "JOB_IN_PROGRESS") {
		t.Fatalf("body = %s, want JOB_IN_PROGRESS", rec.Body.String())
	}
}

func TestOutcomeJobCreateOutcomeNotConfigured(t *testing.T) {
	app := newTestApp(&fakeSessionRepo{session: photoSession()}, &fakeExperienceRepo{err: domain.ErrNotFound}, &fakeJobRepo{})

	rec := doCreate(t, app, `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "TRANSFORM_NOT_FOUND") {
		t.Fatalf("body = %s, want TRANSFORM_NOT_FOUND", rec.Body.String())
	}
}

func TestOutcomeJobCreateMisconfigured(t *testing.T) {
	bad := &domain.Outcome{Type: domain.OutcomeTypePhoto}
	app := newTestApp(&fakeSessionRepo{session: photoSession()}, &fakeExperienceRepo{outcome: bad}, &fakeJobRepo{})

	rec := doCreate(t, app, `{}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_INPUT") {
		t.Fatalf("body = %s, want INVALID_INPUT", rec.Body.String())
	}
}

func TestOutcomeJobStatusOmitsSnapshot(t *testing.T) {
	job := &domain.Job{
		ID:        "job-1",
		SessionID: "sess-1",
		Status:    domain.JobStatusCompleted,
		Snapshot: domain.JobSnapshot{
			OutcomeConfig: domain.Outcome{
				Type: domain.OutcomeTypeAIImage,
				AIImage: &domain.AIImageConfig{
					Task:       domain.AITaskTextToImage,
					Generation: domain.GenerationConfig{Prompt: "a secret studio prompt"},
				},
			},
		},
	}
	app := newTestApp(&fakeSessionRepo{session: photoSession()}, &fakeExperienceRepo{outcome: photoOutcome()}, &fakeJobRepo{job: job})

	req := httptest.NewRequest(http.MethodGet, "/v1/outcome-jobs/job-1", nil)
	req.Header.Set("X-Project-ID", "proj-1")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", "job-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	app.OutcomeJobStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret studio prompt") {
		t.Fatal("status response leaked the snapshot prompt")
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("body = %s, want completed status", body)
	}
}

func TestOutcomeJobCancel(t *testing.T) {
	job := &domain.Job{ID: "job-1", Status: domain.JobStatusRunning}

	tests := []struct {
		name     string
		jobs     *fakeJobRepo
		wantCode int
	}{
		{"cancellable", &fakeJobRepo{job: job}, http.StatusNoContent},
		{"unknown job", &fakeJobRepo{getErr: domain.ErrNotFound}, http.StatusNotFound},
		{"already finished", &fakeJobRepo{job: job, cancelErr: domain.ErrNotFound}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakeSessionRepo{session: photoSession()}, &fakeExperienceRepo{outcome: photoOutcome()}, tt.jobs)
			req := httptest.NewRequest(http.MethodPost, "/v1/outcome-jobs/job-1/cancel", nil)
			req.Header.Set("X-Project-ID", "proj-1")
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("job_id", "job-1")
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			rec := httptest.NewRecorder()
			app.OutcomeJobCancel(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}
