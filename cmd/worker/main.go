package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mydiary/ai-service/internal/adapter/repo"
	"github.com/mydiary/ai-service/internal/infra"
	"github.com/mydiary/ai-service/internal/providers/image"
	"github.com/mydiary/ai-service/internal/providers/prompt"
	"github.com/mydiary/ai-service/internal/queue"
	"github.com/mydiary/ai-service/internal/storage"
	"github.com/mydiary/ai-service/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Missing provider credentials abort startup, not the first job.
	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal().Err(err).Msg("invalid worker configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	jobs := repo.NewJobRepository(dbpool)
	if err := jobs.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	q, err := queue.Connect(cfg.NATSURL, cfg.QueueStream, cfg.QueueSubject)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect queue")
	}
	defer q.Close()
	if err := q.EnsureStream(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure stream")
	}

	prompts, err := newPromptBuilder(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build prompt provider")
	}

	images, err := image.NewSDServer(image.SDServerOptions{
		BaseURL:  cfg.SDBaseURL,
		Steps:    cfg.SDSteps,
		Guidance: cfg.SDGuidance,
		Width:    cfg.SDWidth,
		Height:   cfg.SDHeight,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build image generator")
	}

	uploads, err := newUploader(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build storage backend")
	}

	w := worker.New(worker.Options{
		Repo:         jobs,
		Queue:        q,
		Prompts:      prompts,
		Images:       images,
		Uploads:      uploads,
		PopWait:      cfg.QueuePopWait,
		IdleAfter:    cfg.WorkerIdle,
		StageTimeout: cfg.StageTimeout,
		Logger:       logger,
	})

	err = w.Run(ctx)
	switch {
	case errors.Is(err, worker.ErrIdle):
		logger.Info().Msg("no work left, exiting")
	case errors.Is(err, context.Canceled):
		logger.Info().Msg("shutdown signal received, exiting")
	case err != nil:
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func newPromptBuilder(cfg *infra.Config) (prompt.Builder, error) {
	switch cfg.PromptProvider {
	case infra.PromptProviderStatic:
		return prompt.NewStaticBuilder(), nil
	default:
		return prompt.NewOpenAIBuilder(prompt.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
	}
}

func newUploader(cfg *infra.Config) (storage.Uploader, error) {
	switch cfg.StorageBackend {
	case infra.StorageBackendFilesystem:
		return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	default:
		return storage.NewSupabaseStore(storage.SupabaseOptions{
			BaseURL:    cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Bucket:     cfg.SupabaseBucket,
		})
	}
}
