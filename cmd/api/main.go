package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"outcome-engine/internal/adapter/repo"
	"outcome-engine/internal/engine"
	httpapi "outcome-engine/internal/http"
	"outcome-engine/internal/http/handlers"
	"outcome-engine/internal/infra"
	"outcome-engine/internal/infra/geoip"
	"outcome-engine/internal/middleware"
	"outcome-engine/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, country detection degraded")
	} else if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	sessions := repo.NewSessionRepository(dbpool)
	experiences := repo.NewExperienceRepository(dbpool)
	jobs := repo.NewJobRepository(dbpool)
	tasks := queue.NewRedisQueue(rdb, cfg.QueuePrefix)

	sync := engine.NewSynchronizer(sessions, logger)
	intake := engine.NewIntake(sessions, experiences, jobs, tasks, sync, logger)

	app := handlers.NewApp(intake, jobs, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		StoragePath:     cfg.StoragePath,
		RateLimitBudget: cfg.RateLimitBudget,
		RateLimitWindow: cfg.RateLimitWindow,
		Logger:          logger,
	})

	server := infra.NewServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
