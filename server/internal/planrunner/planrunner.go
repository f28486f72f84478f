// Package planrunner implements the Plan Runner (C7), the centerpiece of
// the execution engine: a dependency-ordered multi-step executor with
// skip-on-dependency-failure semantics (spec.md §4.7). There is no direct
// teacher analog — arkeep has no DAG executor — so the readiness loop
// follows spec.md §4.7 verbatim; its shape (one goroutine owning a
// long-running unit of work end to end, writing through the Store and
// publishing through the Event Bus at each transition) follows the
// teacher's scheduler.runJob idiom. Plan steps always execute as local
// subprocesses via internal/localexec.Spawn — a Plan has no per-step
// node_id in the data model (spec.md §3).
package planrunner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/localexec"
	"github.com/ccxuy/easyrun/server/internal/logbuf"
	"github.com/ccxuy/easyrun/server/internal/metrics"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

// Runner executes plan runs. One Start call owns a PlanRun's entire
// lifecycle in a dedicated goroutine.
type Runner struct {
	cfg   localexec.Config
	store *store.Store
	bus   *eventbus.Bus
	logs  *logbuf.Registry
	log   *zap.Logger
}

// New creates a Runner. cfg supplies the same task-runner binary/taskfile
// the Local Executor uses, since plan steps share the spec.md §4.5 spawn
// contract.
func New(cfg localexec.Config, st *store.Store, bus *eventbus.Bus, logs *logbuf.Registry, log *zap.Logger) *Runner {
	return &Runner{cfg: cfg, store: st, bus: bus, logs: logs, log: log.Named("planrunner")}
}

// Start persists a new PlanRun for plan with the given params and trigger,
// then runs it to completion in a background goroutine. Returns
// immediately with the created run in status "running" (spec.md §6's
// {run_id,status:"running"} response shape).
func (r *Runner) Start(ctx context.Context, plan types.PlanDef, vars map[string]string, trigger types.PlanTrigger) (types.PlanRun, error) {
	stepNames := make([]string, len(plan.Steps))
	taskOf := make(map[string]string, len(plan.Steps))
	for i, s := range plan.Steps {
		stepNames[i] = s.Name
		taskOf[s.Name] = s.Task
	}

	params := mergeParams(plan.Params, vars)
	now := time.Now().UTC()
	run := types.PlanRun{
		PlanName:    plan.Name,
		Status:      types.PlanRunStatusRunning,
		Params:      params,
		TriggerType: trigger,
		StartedAt:   &now,
	}
	created, err := r.store.InsertPlanRun(ctx, run, stepNames, taskOf)
	if err != nil {
		return types.PlanRun{}, fmt.Errorf("planrunner: start: %w", err)
	}

	r.bus.Publish(types.TopicPlanUpdate, map[string]string{"run_id": created.ID, "plan_name": plan.Name, "status": string(types.PlanRunStatusRunning)})

	// The background run is detached from the request context: the HTTP
	// request that triggered it returns as soon as the run is persisted.
	go r.run(context.Background(), created.ID, plan, params)

	return created, nil
}

// stepState is the runner's private readiness bookkeeping for one plan
// run. success/failed/blocked are disjoint; blocked covers both
// directly-skipped steps and steps whose dependency chain was skipped —
// spec.md §4.7 treats both as equivalent for transitive-closure purposes.
type stepState struct {
	success map[string]bool
	failed  map[string]bool
	blocked map[string]bool
}

func (s *stepState) resolved(name string) bool {
	return s.success[name] || s.failed[name] || s.blocked[name]
}

func (s *stepState) isBlocking(name string) bool {
	return s.failed[name] || s.blocked[name]
}

// run drives one plan run's readiness/skip-propagation/no-progress-defense
// loop to completion (spec.md §4.7), persisting and publishing at every
// step and plan transition.
func (r *Runner) run(ctx context.Context, runID string, plan types.PlanDef, params map[string]string) {
	start := time.Now()
	state := &stepState{success: map[string]bool{}, failed: map[string]bool{}, blocked: map[string]bool{}}

	remaining := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		remaining[s.Name] = true
	}

	stalled := false
	for len(remaining) > 0 {
		ready, skip, waiting := classify(plan, remaining, state)

		if len(ready) == 0 && len(skip) == 0 {
			// No progress possible in this iteration: a malformed or cyclic
			// needs graph. spec.md §4.7 step 6 requires the defensive
			// skip of everything still remaining. A cycle can never be
			// satisfied, so the run as a whole is a failure even though
			// every remaining step individually finalizes as skipped.
			skip = waiting
			stalled = true
		}

		for _, name := range skip {
			r.finalizeStep(ctx, runID, name, types.StepStatusSkipped, nil, "", nil, nil)
			metrics.PlanStepsTotal.WithLabelValues(string(types.StepStatusSkipped)).Inc()
			state.blocked[name] = true
			delete(remaining, name)
		}

		if len(ready) > 0 {
			sort.Strings(ready) // lexicographic tie-break for deterministic ordering
			type outcome struct {
				name   string
				status types.PlanRunStepStatus
			}
			results := make(chan outcome, len(ready))
			for _, name := range ready {
				def := stepByName(plan, name)
				go func(def types.PlanStepDef) {
					results <- outcome{name: def.Name, status: r.runStep(ctx, runID, def, params)}
				}(def)
			}
			for range ready {
				o := <-results
				if o.status == types.StepStatusSuccess {
					state.success[o.name] = true
				} else {
					state.failed[o.name] = true
				}
				delete(remaining, o.name)
			}
		}

		r.persistProgress(ctx, runID, state)
	}

	status := types.PlanRunStatusSuccess
	if len(state.failed) > 0 || stalled {
		status = types.PlanRunStatusFailed
	}
	finished := time.Now()
	dur := finished.Sub(start).Seconds()
	if _, err := r.store.UpdatePlanRun(ctx, runID, store.PlanRunUpdate{
		Status:     &status,
		Duration:   &dur,
		FinishedAt: &finished,
	}); err != nil {
		r.log.Error("failed to finalize plan run", zap.String("run_id", runID), zap.Error(err))
	}
	r.bus.Publish(types.TopicPlanUpdate, map[string]string{"run_id": runID, "plan_name": plan.Name, "status": string(status)})
	r.log.Info("plan run finished", zap.String("run_id", runID), zap.String("status", string(status)))

	metrics.PlanRunsTotal.WithLabelValues(string(status)).Inc()
	metrics.PlanRunDuration.WithLabelValues(string(status)).Observe(dur)
}

// classify partitions remaining step names into ready, skip, and wait per
// spec.md §4.7 step 1.
func classify(plan types.PlanDef, remaining map[string]bool, state *stepState) (ready, skip, wait []string) {
	for name := range remaining {
		def := stepByName(plan, name)
		blockedByDep := false
		allDepsDone := true
		for _, need := range def.Needs {
			if state.isBlocking(need) {
				blockedByDep = true
				break
			}
			if !state.success[need] {
				allDepsDone = false
			}
		}
		switch {
		case blockedByDep:
			skip = append(skip, name)
		case allDepsDone:
			ready = append(ready, name)
		default:
			wait = append(wait, name)
		}
	}
	return ready, skip, wait
}

func stepByName(plan types.PlanDef, name string) types.PlanStepDef {
	for _, s := range plan.Steps {
		if s.Name == name {
			return s
		}
	}
	return types.PlanStepDef{Name: name}
}

// runStep executes one ready step to completion, persisting its running
// and terminal transitions, and returns its terminal step status.
func (r *Runner) runStep(ctx context.Context, runID string, def types.PlanStepDef, planParams map[string]string) types.PlanRunStepStatus {
	started := time.Now()
	if _, err := r.store.UpdateStep(ctx, runID, def.Name, store.StepUpdate{
		Status:    statusPtr(types.StepStatusRunning),
		StartedAt: &started,
	}); err != nil {
		r.log.Error("failed to mark step running", zap.String("run_id", runID), zap.String("step", def.Name), zap.Error(err))
	}
	r.bus.Publish(types.TopicPlanStepUpdate, map[string]string{"run_id": runID, "step_name": def.Name, "status": string(types.StepStatusRunning)})

	vars := mergeParams(planParams, def.Vars)
	buf := r.logs.Open(runID + ":" + def.Name)
	result := localexec.Spawn(ctx, r.cfg, def.Task, vars, buf)

	status := types.StepStatusSuccess
	if result.Status != types.JobStatusSuccess {
		status = types.StepStatusFailed
	}

	r.finalizeStep(ctx, runID, def.Name, status, result.ExitCode, result.Logs, &started, &result.FinishedAt)
	metrics.PlanStepsTotal.WithLabelValues(string(status)).Inc()
	return status
}

func (r *Runner) finalizeStep(ctx context.Context, runID, name string, status types.PlanRunStepStatus, exitCode *int, logs string, started, finished *time.Time) {
	var dur *float64
	if started != nil && finished != nil {
		d := finished.Sub(*started).Seconds()
		dur = &d
	}
	if _, err := r.store.UpdateStep(ctx, runID, name, store.StepUpdate{
		Status:     &status,
		ExitCode:   exitCode,
		AppendLog:  logs,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   dur,
	}); err != nil {
		r.log.Error("failed to finalize step", zap.String("run_id", runID), zap.String("step", name), zap.Error(err))
	}
	r.bus.Publish(types.TopicPlanStepUpdate, map[string]string{"run_id": runID, "step_name": name, "status": string(status)})
}

// persistProgress updates completed_steps monotonically, counting
// success + failed + blocked (skipped), per spec.md §4.7 step 5.
func (r *Runner) persistProgress(ctx context.Context, runID string, state *stepState) {
	done := len(state.success) + len(state.failed) + len(state.blocked)
	if _, err := r.store.UpdatePlanRun(ctx, runID, store.PlanRunUpdate{CompletedSteps: &done}); err != nil {
		r.log.Error("failed to update plan run progress", zap.String("run_id", runID), zap.Error(err))
	}
}

func statusPtr(s types.PlanRunStepStatus) *types.PlanRunStepStatus { return &s }

func mergeParams(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
