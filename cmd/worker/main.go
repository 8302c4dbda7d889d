package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"outcome-engine/internal/adapter/repo"
	"outcome-engine/internal/engine"
	"outcome-engine/internal/executor"
	"outcome-engine/internal/genai"
	"outcome-engine/internal/infra"
	"outcome-engine/internal/queue"
	"outcome-engine/internal/storage"
	"outcome-engine/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

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

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize file store")
	}

	generator, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GenAIAPIKey,
		BaseURL: cfg.GenAIBaseURL,
		Model:   cfg.GenAIModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize generation client")
	}

	sessions := repo.NewSessionRepository(dbpool)
	jobs := repo.NewJobRepository(dbpool)
	tasks := queue.NewRedisQueue(rdb, cfg.QueuePrefix)

	sync := engine.NewSynchronizer(sessions, logger)
	registry := executor.NewRegistry(executor.NewPhotoExecutor(), executor.NewAIImageExecutor())
	runner := engine.NewRunner(jobs, sync, registry, store, generator, store, logger)

	pool := worker.NewPool(tasks, runner, cfg.WorkerCount, cfg.JobTimeout, logger)
	pool.Run(ctx)

	logger.Info().Msg("worker stopped")
}
