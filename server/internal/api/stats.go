package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/registry"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

// StatsHandler groups the reporting and dashboard HTTP handlers: post-hoc
// CLI execution reports, the unified execution history view, and the
// summary dashboard, which sit beside the core Job/Plan/Node model.
type StatsHandler struct {
	store *store.Store
	reg   *registry.Registry
	log   *zap.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(st *store.Store, reg *registry.Registry, log *zap.Logger) *StatsHandler {
	return &StatsHandler{store: st, reg: reg, log: log.Named("stats_handler")}
}

type reportExecutionRequest struct {
	Task      string            `json:"task"`
	ExitCode  int               `json:"exit_code"`
	Duration  float64           `json:"duration"`
	Host      string            `json:"host"`
	Workspace string            `json:"workspace"`
	Params    map[string]string `json:"params,omitempty"`
}

// Report handles POST /api/v1/stats/report: a CLI tool's post-hoc record of
// a task invocation it ran independently of this control plane.
func (h *StatsHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportExecutionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Task == "" {
		ErrBadRequest(w, "task is required")
		return
	}
	exec := types.CliExecution{
		Task:      req.Task,
		ExitCode:  req.ExitCode,
		Duration:  req.Duration,
		Host:      req.Host,
		Workspace: req.Workspace,
		Params:    req.Params,
		Timestamp: time.Now().UTC(),
	}
	created, err := h.store.InsertCliExecution(r.Context(), exec)
	if err != nil {
		h.log.Error("failed to record cli execution", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"id": created.ID, "status": "recorded"})
}

// executionEntry is the unified shape returned by List, covering jobs, plan
// runs, and independently-reported CLI executions under one timeline.
type executionEntry struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// List handles GET /api/v1/executions?type=&status=&search=&limit=, a
// unified view across jobs, plan runs, and CLI executions — there is no
// single "execution" entity in the core data model, so this merges and
// sorts the three independently.
func (h *StatsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("type")
	status := strings.ToLower(q.Get("status"))
	search := strings.ToLower(q.Get("search"))
	limit := 50
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}

	var entries []executionEntry

	if kind == "" || kind == "job" {
		jobs, err := h.store.ListJobs(r.Context(), store.JobFilter{}, limit)
		if err != nil {
			h.log.Error("failed to list jobs", zap.Error(err))
			ErrInternal(w)
			return
		}
		for _, j := range jobs {
			entries = append(entries, executionEntry{Kind: "job", ID: j.ID, Task: j.Task, Status: string(j.Status), Timestamp: j.CreatedAt})
		}
	}

	if kind == "" || kind == "plan" {
		runs, err := h.store.ListPlanRuns(r.Context(), "", limit)
		if err != nil {
			h.log.Error("failed to list plan runs", zap.Error(err))
			ErrInternal(w)
			return
		}
		for _, pr := range runs {
			ts := pr.FinishedAt
			if ts == nil {
				ts = pr.StartedAt
			}
			var t time.Time
			if ts != nil {
				t = *ts
			}
			entries = append(entries, executionEntry{Kind: "plan", ID: pr.ID, Task: pr.PlanName, Status: string(pr.Status), Timestamp: t})
		}
	}

	if kind == "" || kind == "cli" {
		cli, err := h.store.ListCliExecutions(r.Context(), limit)
		if err != nil {
			h.log.Error("failed to list cli executions", zap.Error(err))
			ErrInternal(w)
			return
		}
		for _, c := range cli {
			st := "success"
			if c.ExitCode != 0 {
				st = "failed"
			}
			entries = append(entries, executionEntry{Kind: "cli", ID: strconv.FormatInt(c.ID, 10), Task: c.Task, Status: st, Timestamp: c.Timestamp})
		}
	}

	filtered := entries[:0]
	for _, e := range entries {
		if status != "" && strings.ToLower(e.Status) != status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Task), search) {
			continue
		}
		filtered = append(filtered, e)
	}

	sortByTimestampDesc(filtered)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	Ok(w, map[string]any{"executions": filtered})
}

func sortByTimestampDesc(entries []executionEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Timestamp.After(entries[j-1].Timestamp); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Dashboard handles GET /api/v1/dashboard: a snapshot summary view
// combining active runs, recent failures, and fleet state.
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobs, err := h.store.ListJobs(ctx, store.JobFilter{}, 500)
	if err != nil {
		h.log.Error("failed to list jobs for dashboard", zap.Error(err))
		ErrInternal(w)
		return
	}
	runs, err := h.store.ListPlanRuns(ctx, "", 500)
	if err != nil {
		h.log.Error("failed to list plan runs for dashboard", zap.Error(err))
		ErrInternal(w)
		return
	}
	nodes, err := h.reg.List(ctx)
	if err != nil {
		h.log.Error("failed to list nodes for dashboard", zap.Error(err))
		ErrInternal(w)
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	activeRuns, failed24h, total24h := 0, 0, 0

	for _, j := range jobs {
		if j.Status == types.JobStatusRunning || j.Status == types.JobStatusPending {
			activeRuns++
		}
		if j.CreatedAt.After(cutoff) {
			total24h++
			if j.Status == types.JobStatusFailed || j.Status == types.JobStatusError || j.Status == types.JobStatusTimeout {
				failed24h++
			}
		}
	}
	for _, pr := range runs {
		if pr.Status == types.PlanRunStatusRunning || pr.Status == types.PlanRunStatusPending {
			activeRuns++
		}
		if pr.StartedAt != nil && pr.StartedAt.After(cutoff) {
			total24h++
			if pr.Status == types.PlanRunStatusFailed || pr.Status == types.PlanRunStatusError {
				failed24h++
			}
		}
	}

	online, offline := 0, 0
	for _, n := range nodes {
		if n.Status == types.NodeStatusOnline {
			online++
		} else {
			offline++
		}
	}

	Ok(w, map[string]any{
		"active_runs": activeRuns,
		"failed_24h":  failed24h,
		"stats_24h":   map[string]int{"total": total24h, "failed": failed24h},
		"nodes_summary": map[string]int{
			"online":  online,
			"offline": offline,
			"total":   len(nodes),
		},
	})
}
