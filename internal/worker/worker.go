package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mydiary/ai-service/internal/domain"
	"github.com/mydiary/ai-service/internal/providers/image"
	"github.com/mydiary/ai-service/internal/providers/prompt"
	"github.com/mydiary/ai-service/internal/queue"
	"github.com/mydiary/ai-service/internal/storage"
)

// ErrIdle reports a clean scale-to-zero exit: no job arrived within the
// configured idle window.
var ErrIdle = errors.New("worker idle timeout")

// Queue is the consumer side of the work queue.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
}

// Options wires the worker's collaborators and control-loop knobs.
type Options struct {
	Repo         domain.JobRepository
	Queue        Queue
	Prompts      prompt.Builder
	Images       image.Generator
	Uploads      storage.Uploader
	PopWait      time.Duration
	IdleAfter    time.Duration
	StageTimeout time.Duration
	Logger       zerolog.Logger
}

// Worker owns the consume-process-finalize cycle. It processes one job at
// a time: the image stage holds exclusive use of the accelerator, so jobs
// are serialized rather than scheduled.
type Worker struct {
	repo         domain.JobRepository
	queue        Queue
	prompts      prompt.Builder
	images       image.Generator
	uploads      storage.Uploader
	popWait      time.Duration
	idleAfter    time.Duration
	stageTimeout time.Duration
	logger       zerolog.Logger
}

func New(opts Options) *Worker {
	popWait := opts.PopWait
	if popWait <= 0 {
		popWait = 5 * time.Second
	}
	idleAfter := opts.IdleAfter
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}
	return &Worker{
		repo:         opts.Repo,
		queue:        opts.Queue,
		prompts:      opts.Prompts,
		images:       opts.Images,
		uploads:      opts.Uploads,
		popWait:      popWait,
		idleAfter:    idleAfter,
		stageTimeout: opts.StageTimeout,
		logger:       opts.Logger,
	}
}

// Run loads the model once, then consumes the queue until the context is
// cancelled or the idle threshold passes without a pop. A single job's
// failure never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.images.Init(ctx); err != nil {
		return fmt.Errorf("init image generator: %w", err)
	}
	w.logger.Info().Dur("idle_after", w.idleAfter).Msg("worker: started")

	lastPop := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		delivery, err := w.queue.Pop(ctx, w.popWait)
		if err != nil {
			if errors.Is(err, queue.ErrNoJob) {
				if time.Since(lastPop) > w.idleAfter {
					w.logger.Info().Dur("idle_after", w.idleAfter).Msg("worker: idle threshold reached, shutting down")
					return ErrIdle
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("worker: queue pop failed")
			continue
		}

		// Idle is measured from the last pop, not the last success.
		lastPop = time.Now()
		w.handleJob(ctx, delivery)
	}
}

func (w *Worker) handleJob(ctx context.Context, delivery *queue.Delivery) {
	logger := w.logger.With().Str("job_id", delivery.JobID).Logger()
	logger.Info().Msg("worker: picked job")

	if err := w.processJob(ctx, delivery.JobID); err != nil {
		logger.Error().Err(err).Msg("worker: job failed")
		if failErr := w.repo.Fail(ctx, delivery.JobID, err.Error()); failErr != nil {
			logger.Error().Err(failErr).Msg("worker: record failure failed")
		}
	} else {
		logger.Info().Msg("worker: job done")
	}

	// Ack after the terminal status is written: a crash before this point
	// lets the id be redelivered once the ack wait expires.
	if err := delivery.Ack(); err != nil {
		logger.Error().Err(err).Msg("worker: ack failed")
	}
}

func (w *Worker) processJob(ctx context.Context, jobID string) error {
	if err := w.repo.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	job, err := w.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if strings.TrimSpace(job.InputText) == "" {
		return errors.New("input_text missing in job record")
	}

	derivedPrompt, err := w.stagePrompt(ctx, job.InputText)
	if err != nil {
		return fmt.Errorf("prompt stage: %w", err)
	}
	if err := w.repo.SetDerivedPrompt(ctx, jobID, derivedPrompt); err != nil {
		return fmt.Errorf("record derived prompt: %w", err)
	}

	artifact, err := w.stageImage(ctx, derivedPrompt)
	if err != nil {
		return fmt.Errorf("image stage: %w", err)
	}

	key := artifactKey()
	resultURL, err := w.stageUpload(ctx, key, artifact)
	if err != nil {
		return fmt.Errorf("upload stage: %w", err)
	}

	if err := w.repo.Complete(ctx, jobID, derivedPrompt, resultURL); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

func (w *Worker) stagePrompt(ctx context.Context, inputText string) (string, error) {
	ctx, cancel := w.stageContext(ctx)
	defer cancel()
	return w.prompts.BuildPrompt(ctx, inputText)
}

func (w *Worker) stageImage(ctx context.Context, derivedPrompt string) ([]byte, error) {
	ctx, cancel := w.stageContext(ctx)
	defer cancel()
	return w.images.Generate(ctx, derivedPrompt)
}

func (w *Worker) stageUpload(ctx context.Context, key string, artifact []byte) (string, error) {
	ctx, cancel := w.stageContext(ctx)
	defer cancel()
	return w.uploads.Upload(ctx, key, artifact, "image/png")
}

// stageContext bounds each adapter call so a hung upstream cannot stall
// the loop forever; expiry surfaces as that stage's failure.
func (w *Worker) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.stageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.stageTimeout)
}

func artifactKey() string {
	return "generated/" + strings.ReplaceAll(uuid.NewString(), "-", "") + ".png"
}
