package infra

import (
	"context"
	"net/http"
	"time"
)

// Server is the outward HTTP listener for the job API, carrying the timeout
// profile from Config plus a graceful drain used at shutdown so in-flight
// admissions finish before the process exits.
type Server struct {
	srv *http.Server
}

func NewServer(cfg *Config, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

// ListenAndServe blocks serving requests until the listener is closed.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains open connections, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
