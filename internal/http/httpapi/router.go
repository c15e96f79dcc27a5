package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mydiary/ai-service/internal/http/handlers"
	"github.com/mydiary/ai-service/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)

	r.Get("/health", app.Health)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", app.SubmitJob)
		r.Get("/{job_id}", app.JobStatus)
	})

	return r
}
