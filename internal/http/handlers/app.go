package handlers

import (
	"encoding/json"
	"net/http"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/engine"
	"outcome-engine/internal/infra"
)

// App bundles the handler dependencies: the admission service and the job
// store for the read-side views.
type App struct {
	Intake *engine.Intake
	Jobs   domain.JobRepository
	Logger infra.Logger
}

func NewApp(intake *engine.Intake, jobs domain.JobRepository, logger infra.Logger) *App {
	return &App{Intake: intake, Jobs: jobs, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"code": code, "message": message})
}
