package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/apperr"
	"github.com/ccxuy/easyrun/server/internal/dispatch"
	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/logbuf"
	"github.com/ccxuy/easyrun/server/internal/registry"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

// JobHandler groups the job-lifecycle HTTP handlers: submission, lookup,
// cancellation, and agent-reported results (spec.md §6).
type JobHandler struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	reg        *registry.Registry
	bus        *eventbus.Bus
	logs       *logbuf.Registry
	log        *zap.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(st *store.Store, d *dispatch.Dispatcher, reg *registry.Registry, bus *eventbus.Bus, logs *logbuf.Registry, log *zap.Logger) *JobHandler {
	return &JobHandler{store: st, dispatcher: d, reg: reg, bus: bus, logs: logs, log: log.Named("job_handler")}
}

type runTaskRequest struct {
	Task string            `json:"task"`
	Node string            `json:"node,omitempty"`
	Vars map[string]string `json:"vars,omitempty"`
}

// RunTask handles POST /api/v1/tasks/run.
func (h *JobHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Task == "" {
		ErrBadRequest(w, "task is required")
		return
	}

	job := types.Job{Task: req.Task, Vars: req.Vars, Status: types.JobStatusPending}
	if req.Node != "" {
		job.NodeID = &req.Node
	}

	created, err := h.store.InsertJob(r.Context(), job)
	if err != nil {
		h.log.Error("failed to create job", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.bus.Publish(types.TopicJobUpdate, map[string]string{"job_id": created.ID, "status": string(created.Status)})

	if err := h.dispatcher.Dispatch(r.Context(), created); err != nil {
		kind := apperr.KindOf(err)
		h.log.Warn("dispatch failed", zap.String("job_id", created.ID), zap.Error(err))
		writeErr(w, kind, err)
		return
	}

	Ok(w, map[string]any{"job_id": created.ID, "status": created.Status})
}

// GetByID handles GET /api/v1/jobs/{id}.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w, "job not found")
			return
		}
		h.log.Error("failed to get job", zap.String("job_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, job)
}

// Cancel handles POST /api/v1/jobs/{id}/cancel. Per spec.md §5's documented
// source behavior, cancellation flips status and publishes the event but
// does not terminate an in-flight subprocess (see DESIGN.md's open-question
// decision).
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := time.Now().UTC()
	status := types.JobStatusCancelled
	updated, err := h.store.UpdateJob(r.Context(), id, store.JobUpdate{Status: &status, FinishedAt: &now})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w, "job not found")
			return
		}
		h.log.Error("failed to cancel job", zap.String("job_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	if buf, ok := h.logs.Get(id); ok {
		buf.Finalize(types.JobStatusCancelled)
	}
	h.bus.Publish(types.TopicJobUpdate, map[string]string{"job_id": updated.ID, "status": string(updated.Status)})
	Ok(w, map[string]any{"status": "cancelled"})
}

type jobResultRequest struct {
	Status   types.JobStatus `json:"status"`
	ExitCode *int            `json:"exit_code,omitempty"`
	Logs     string          `json:"logs,omitempty"`
}

// Result handles POST /api/v1/jobs/{id}/result — the agent-reported final
// status, submitted over plain HTTP rather than the push channel so a
// result can still be accepted after the agent channel has dropped
// (spec.md §4.6). The server MUST accept a result for a job whose node has
// since gone offline; reports for unknown jobs are rejected with NotFound.
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req jobResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" || !req.Status.IsTerminal() {
		ErrBadRequest(w, "status must be a terminal job status")
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w, "job not found")
			return
		}
		h.log.Error("failed to look up job for result", zap.String("job_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	now := time.Now().UTC()
	updated, err := h.store.UpdateJob(r.Context(), id, store.JobUpdate{
		Status:     &req.Status,
		ExitCode:   req.ExitCode,
		AppendLog:  req.Logs,
		FinishedAt: &now,
	})
	if err != nil {
		h.log.Error("failed to finalize job result", zap.String("job_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	if buf, ok := h.logs.Get(id); ok {
		buf.Append(req.Logs)
		buf.Finalize(req.Status)
	}

	if job.NodeID != nil {
		if err := h.reg.SetCurrentJob(r.Context(), *job.NodeID, nil); err != nil {
			h.log.Warn("failed to clear node's current job", zap.String("node_id", *job.NodeID), zap.Error(err))
		}
	}

	h.bus.Publish(types.TopicJobUpdate, map[string]string{"job_id": updated.ID, "status": string(updated.Status)})
	Ok(w, map[string]any{"status": "ok"})
}
