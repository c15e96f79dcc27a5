package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mydiary/ai-service/internal/domain"
	"github.com/mydiary/ai-service/internal/queue"
)

// memRepo is an in-memory JobRepository that records every status written
// so tests can assert the observed lifecycle path.
type memRepo struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	transitions map[string][]domain.JobStatus
}

func newMemRepo() *memRepo {
	return &memRepo{
		jobs:        make(map[string]*domain.Job),
		transitions: make(map[string][]domain.JobStatus),
	}
}

func (r *memRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	copied := *job
	r.jobs[job.ID] = &copied
	r.transitions[job.ID] = append(r.transitions[job.ID], job.Status)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *memRepo) MarkRunning(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusRunning
	job.DerivedPrompt = ""
	job.ResultURL = ""
	job.ErrorMessage = ""
	r.transitions[jobID] = append(r.transitions[jobID], job.Status)
	return nil
}

func (r *memRepo) SetDerivedPrompt(ctx context.Context, jobID, derivedPrompt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.DerivedPrompt = derivedPrompt
	return nil
}

func (r *memRepo) Complete(ctx context.Context, jobID, derivedPrompt, resultURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusDone
	job.DerivedPrompt = derivedPrompt
	job.ResultURL = resultURL
	r.transitions[jobID] = append(r.transitions[jobID], job.Status)
	return nil
}

func (r *memRepo) Fail(ctx context.Context, jobID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusError
	job.ErrorMessage = errMsg
	r.transitions[jobID] = append(r.transitions[jobID], job.Status)
	return nil
}

func (r *memRepo) path(jobID string) []domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.JobStatus(nil), r.transitions[jobID]...)
}

// memQueue hands out deliveries from a channel, timing out like the real
// blocking pop.
type memQueue struct {
	ch chan *queue.Delivery
}

func newMemQueue() *memQueue {
	return &memQueue{ch: make(chan *queue.Delivery, 16)}
}

func (q *memQueue) push(jobID string, acked *int32, mu *sync.Mutex) {
	q.ch <- &queue.Delivery{
		JobID: jobID,
		Ack: func() error {
			if acked != nil {
				mu.Lock()
				*acked++
				mu.Unlock()
			}
			return nil
		},
		Nak: func() error { return nil },
	}
}

func (q *memQueue) Pop(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	select {
	case d := <-q.ch:
		return d, nil
	case <-time.After(timeout):
		return nil, queue.ErrNoJob
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeBuilder struct {
	fn func(ctx context.Context, text string) (string, error)
}

func (f fakeBuilder) BuildPrompt(ctx context.Context, text string) (string, error) {
	return f.fn(ctx, text)
}

type fakeGenerator struct {
	initErr  error
	generate func(ctx context.Context, prompt string) ([]byte, error)
	ready    bool
}

func (f *fakeGenerator) Init(ctx context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.ready = true
	return nil
}

func (f *fakeGenerator) Ready() bool { return f.ready }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return f.generate(ctx, prompt)
}

type fakeUploader struct {
	fn func(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

func (f fakeUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return f.fn(ctx, key, data, contentType)
}

func happyGenerator() *fakeGenerator {
	return &fakeGenerator{generate: func(ctx context.Context, prompt string) ([]byte, error) {
		return []byte("PNGDATA"), nil
	}}
}

func happyBuilder() fakeBuilder {
	return fakeBuilder{fn: func(ctx context.Context, text string) (string, error) {
		return "a cozy rainy afternoon scene", nil
	}}
}

func happyUploader() fakeUploader {
	return fakeUploader{fn: func(ctx context.Context, key string, data []byte, contentType string) (string, error) {
		return "https://store/x.png", nil
	}}
}

func newTestWorker(repo domain.JobRepository, q Queue, b fakeBuilder, g *fakeGenerator, u fakeUploader, idleAfter time.Duration) *Worker {
	return New(Options{
		Repo:      repo,
		Queue:     q,
		Prompts:   b,
		Images:    g,
		Uploads:   u,
		PopWait:   10 * time.Millisecond,
		IdleAfter: idleAfter,
		Logger:    zerolog.Nop(),
	})
}

func waitForTerminal(t *testing.T, repo *memRepo, jobID string) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetByID(context.Background(), jobID)
		if err == nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", jobID)
	return nil
}

func TestWorkerProcessesJobEndToEnd(t *testing.T) {
	repo := newMemRepo()
	q := newMemQueue()
	var mu sync.Mutex
	var acked int32

	_ = repo.Create(context.Background(), &domain.Job{
		ID:        "job-1",
		Status:    domain.JobStatusQueued,
		InputText: "A quiet rainy afternoon",
	})
	q.push("job-1", &acked, &mu)

	w := newTestWorker(repo, q, happyBuilder(), happyGenerator(), happyUploader(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	job := waitForTerminal(t, repo, "job-1")
	if job.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done (error_message=%q)", job.Status, job.ErrorMessage)
	}
	if job.DerivedPrompt != "a cozy rainy afternoon scene" {
		t.Fatalf("derived_prompt = %q", job.DerivedPrompt)
	}
	if job.ResultURL != "https://store/x.png" {
		t.Fatalf("result_url = %q", job.ResultURL)
	}
	if job.ErrorMessage != "" {
		t.Fatalf("error_message = %q, want empty", job.ErrorMessage)
	}

	want := []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusDone}
	got := repo.path("job-1")
	if len(got) != len(want) {
		t.Fatalf("status path = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status path = %v, want %v", got, want)
		}
	}

	mu.Lock()
	ackCount := acked
	mu.Unlock()
	if ackCount != 1 {
		t.Fatalf("ack count = %d, want 1", ackCount)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestWorkerRecordsStageFailureAndStaysLive(t *testing.T) {
	repo := newMemRepo()
	q := newMemQueue()

	_ = repo.Create(context.Background(), &domain.Job{ID: "job-fail", Status: domain.JobStatusQueued, InputText: "text"})
	_ = repo.Create(context.Background(), &domain.Job{ID: "job-ok", Status: domain.JobStatusQueued, InputText: "text"})

	gen := &fakeGenerator{generate: func(ctx context.Context, prompt string) ([]byte, error) {
		return nil, fmt.Errorf("%w: oom", domain.ErrGenerationFailed)
	}}
	w := newTestWorker(repo, q, happyBuilder(), gen, happyUploader(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	q.push("job-fail", nil, nil)
	failed := waitForTerminal(t, repo, "job-fail")
	if failed.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", failed.Status)
	}
	if !strings.Contains(failed.ErrorMessage, "oom") {
		t.Fatalf("error_message = %q, want to contain %q", failed.ErrorMessage, "oom")
	}
	if failed.ResultURL != "" {
		t.Fatalf("result_url = %q, want empty", failed.ResultURL)
	}
	// Partial progress from the prompt stage survives the image failure.
	if failed.DerivedPrompt != "a cozy rainy afternoon scene" {
		t.Fatalf("derived_prompt = %q, want partial progress preserved", failed.DerivedPrompt)
	}

	// The loop must keep consuming after a failed job.
	gen.generate = func(ctx context.Context, prompt string) ([]byte, error) {
		return []byte("PNGDATA"), nil
	}
	q.push("job-ok", nil, nil)
	ok := waitForTerminal(t, repo, "job-ok")
	if ok.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done", ok.Status)
	}
}

func TestWorkerFailsJobWithEmptyInputText(t *testing.T) {
	repo := newMemRepo()
	q := newMemQueue()
	_ = repo.Create(context.Background(), &domain.Job{ID: "job-empty", Status: domain.JobStatusQueued, InputText: "   "})
	q.push("job-empty", nil, nil)

	w := newTestWorker(repo, q, happyBuilder(), happyGenerator(), happyUploader(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	job := waitForTerminal(t, repo, "job-empty")
	if job.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "input_text") {
		t.Fatalf("error_message = %q", job.ErrorMessage)
	}
}

func TestWorkerIdleShutdown(t *testing.T) {
	repo := newMemRepo()
	q := newMemQueue()
	w := newTestWorker(repo, q, happyBuilder(), happyGenerator(), happyUploader(), 100*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrIdle) {
			t.Fatalf("Run returned %v, want ErrIdle", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not idle out")
	}
}

func TestWorkerIdleClockResetsOnPop(t *testing.T) {
	repo := newMemRepo()
	q := newMemQueue()
	_ = repo.Create(context.Background(), &domain.Job{ID: "job-late", Status: domain.JobStatusQueued, InputText: "text"})

	w := newTestWorker(repo, q, happyBuilder(), happyGenerator(), happyUploader(), 250*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	// Push just before the idle threshold; the worker must still be alive,
	// process the job, then idle out afresh.
	time.Sleep(150 * time.Millisecond)
	q.push("job-late", nil, nil)

	job := waitForTerminal(t, repo, "job-late")
	if job.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrIdle) {
			t.Fatalf("Run returned %v, want ErrIdle", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not idle out after processing")
	}
}

func TestWorkerAbortsWhenModelLoadFails(t *testing.T) {
	gen := &fakeGenerator{initErr: fmt.Errorf("%w: CUDA is not available", domain.ErrResourceUnavailable)}
	w := newTestWorker(newMemRepo(), newMemQueue(), happyBuilder(), gen, happyUploader(), time.Hour)

	err := w.Run(context.Background())
	if !errors.Is(err, domain.ErrResourceUnavailable) {
		t.Fatalf("Run returned %v, want ErrResourceUnavailable", err)
	}
}
