// Package httpx is the thin HTTP surface over the pipeline saga: it
// starts workflow executions and exposes the run ledger for operators.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agencyops/pipeline-sagas/internal/coordinator/runledger"
	"github.com/agencyops/pipeline-sagas/internal/gateway/httpx/middlewares"
	"github.com/agencyops/pipeline-sagas/internal/pipeline"
	"github.com/agencyops/pipeline-sagas/internal/pkg/cache"
)

// runCacheTTL bounds how long a terminal run row is served from cache.
const runCacheTTL = 5 * time.Minute

// Handler handles incoming HTTP requests for the workflow domain.
type Handler struct {
	workflow *pipeline.Workflow
	ledger   runledger.Repository
	cache    cache.Cache // nil-safe: reads skip the cache if nil
}

// NewHandler initializes the handler. cache may be nil — run reads then
// always hit the ledger.
func NewHandler(workflow *pipeline.Workflow, ledger runledger.Repository, c cache.Cache) *Handler {
	return &Handler{workflow: workflow, ledger: ledger, cache: c}
}

// CreateWorkflow runs the full saga synchronously and returns a definite
// success/failure result — callers never need to poll.
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.ClientID == "" || req.BriefID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "client_id and brief_id are required")
		return
	}

	idempKey := middlewares.IdempotencyKeyFromContext(r.Context())

	slog.InfoContext(r.Context(), "starting workflow",
		"client_id", req.ClientID, "brief_id", req.BriefID, "force_qc_fail", req.ForceQCFail)

	res, err := h.workflow.Execute(r.Context(), pipeline.Input{
		ClientID:      req.ClientID,
		BriefID:       req.BriefID,
		ForceQCFail:   req.ForceQCFail,
		WorkflowRunID: idempKey,
	})
	switch {
	case errors.Is(err, runledger.ErrDuplicateRun):
		writeError(w, http.StatusConflict, "duplicate_workflow_run", err.Error())
		return
	case errors.Is(err, pipeline.ErrRunClaimed):
		writeError(w, http.StatusConflict, "run_claimed", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "workflow_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, WorkflowResponse{
		SagaID:           res.SagaID,
		Success:          res.Success,
		CompletedSteps:   res.CompletedSteps,
		CompensatedSteps: res.CompensatedSteps,
	})
}

// GetWorkflowRun returns a single ledger row. Terminal rows are served
// from cache; in-flight rows always hit the ledger so status is fresh.
func (h *Handler) GetWorkflowRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id_required", "")
		return
	}

	if h.cache != nil {
		key := h.cache.GenerateKey("run", runID)
		if cached, err := h.cache.Get(r.Context(), key); err == nil && cached != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, cached)
			return
		}
	}

	run, err := h.ledger.GetRun(r.Context(), runID)
	if errors.Is(err, runledger.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run_not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	}

	resp := mapRunToResponse(run)
	if h.cache != nil && run.Status.Terminal() {
		if body, err := json.Marshal(resp); err == nil {
			key := h.cache.GenerateKey("run", runID)
			if err := h.cache.Set(r.Context(), key, string(body), runCacheTTL); err != nil {
				slog.WarnContext(r.Context(), "failed to cache run", "run_id", runID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListWorkflowRuns returns every run for a brief, newest first.
func (h *Handler) ListWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	briefID := chi.URLParam(r, "id")
	if briefID == "" {
		writeError(w, http.StatusBadRequest, "brief_id_required", "")
		return
	}

	runs, err := h.ledger.GetRunsByBrief(r.Context(), briefID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, mapRunToResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func mapRunToResponse(run *runledger.WorkflowRun) RunResponse {
	resp := RunResponse{
		ID:         run.ID,
		BriefID:    run.BriefID,
		Status:     string(run.Status),
		ClaimedBy:  run.ClaimedBy,
		RetryCount: run.RetryCount,
		LastError:  run.LastError,
		TraceID:    run.TraceID,
		CreatedAt:  run.CreatedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
