package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"outcome-engine/internal/http/handlers"
	"outcome-engine/internal/middleware"
)

type Options struct {
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	StoragePath     string
	RateLimitBudget int
	RateLimitWindow time.Duration
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	budget, window := opts.RateLimitBudget, opts.RateLimitWindow
	if budget <= 0 {
		budget = 120
	}
	if window <= 0 {
		window = time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.RateLimit(budget, window))
	r.Use(middleware.I18N(opts.DefaultLocale, opts.CountryLookup))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/{session_id}/outcome-jobs", app.OutcomeJobCreate)
		r.Get("/outcome-jobs/{job_id}", app.OutcomeJobStatus)
		r.Post("/outcome-jobs/{job_id}/cancel", app.OutcomeJobCancel)
	})

	if opts.StoragePath != "" {
		fs := http.StripPrefix("/files/", http.FileServer(http.Dir(opts.StoragePath)))
		r.Get("/files/*", fs.ServeHTTP)
	}

	return r
}
