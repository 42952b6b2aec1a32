package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agencyops/pipeline-sagas/internal/gateway/httpx/middlewares"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachIdempotencyKey)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/workflows", handler.CreateWorkflow)
	r.Get("/workflows/{id}", handler.GetWorkflowRun)
	r.Get("/briefs/{id}/workflows", handler.ListWorkflowRuns)
	return r
}
