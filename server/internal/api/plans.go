package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/planrunner"
	"github.com/ccxuy/easyrun/server/internal/planstore"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

// PlanHandler groups the Plan Runner's HTTP handlers (spec.md §6): starting
// runs, inspecting them, and reading per-step logs.
type PlanHandler struct {
	plans  *planstore.Store
	runner *planrunner.Runner
	store  *store.Store
	log    *zap.Logger
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(plans *planstore.Store, runner *planrunner.Runner, st *store.Store, log *zap.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, runner: runner, store: st, log: log.Named("plan_handler")}
}

type runPlanRequest struct {
	Vars map[string]string `json:"vars,omitempty"`
}

// Run handles POST /api/v1/plans/{name}/run, a manually-triggered run.
func (h *PlanHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, types.PlanTriggerManual, true)
}

// Hook handles POST /api/v1/plans/{name}/hook, a webhook-triggered run.
// Identical to Run except for the recorded trigger type, and lenient about
// the request body: a webhook payload is arbitrary JSON (spec.md §6) — any
// field besides "vars" is ignored rather than rejected.
func (h *PlanHandler) Hook(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, types.PlanTriggerWebhook, false)
}

func (h *PlanHandler) start(w http.ResponseWriter, r *http.Request, trigger types.PlanTrigger, strict bool) {
	name := chi.URLParam(r, "name")
	plan, ok := h.plans.Get(name)
	if !ok {
		ErrNotFound(w, "plan not found: "+name)
		return
	}

	var req runPlanRequest
	if r.ContentLength != 0 {
		if strict {
			if !decodeJSON(w, r, &req) {
				return
			}
		} else if !decodeJSONLenient(w, r, &req) {
			return
		}
	}

	run, err := h.runner.Start(r.Context(), plan, req.Vars, trigger)
	if err != nil {
		h.log.Error("failed to start plan run", zap.String("plan_name", name), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"run_id": run.ID, "status": run.Status})
}

// GetRun handles GET /api/v1/plans/runs/{id}.
func (h *PlanHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.GetPlanRunWithSteps(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w, "plan run not found")
			return
		}
		h.log.Error("failed to get plan run", zap.String("run_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, run)
}

// StepLogs handles GET /api/v1/plans/runs/{id}/steps/{name}/logs.
func (h *PlanHandler) StepLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	step, err := h.store.GetStepLogs(r.Context(), id, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w, "step not found")
			return
		}
		h.log.Error("failed to get step logs", zap.String("run_id", id), zap.String("step", name), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"logs": step.Logs, "status": step.Status})
}
