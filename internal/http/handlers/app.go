package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mydiary/ai-service/internal/domain"
)

// Pusher is the producer side of the work queue. The gateway only ever
// publishes job ids; consumption belongs to the worker process.
type Pusher interface {
	Push(ctx context.Context, jobID string) error
}

type App struct {
	Repo   domain.JobRepository
	Queue  Pusher
	Logger zerolog.Logger
}

func NewApp(repo domain.JobRepository, queue Pusher, logger zerolog.Logger) *App {
	return &App{Repo: repo, Queue: queue, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
