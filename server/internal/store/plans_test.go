package store

import (
	"context"
	"testing"

	"github.com/ccxuy/easyrun/shared/types"
)

func TestInsertPlanRun_CreatesRunAndPendingSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.InsertPlanRun(ctx, types.PlanRun{
		PlanName:    "deploy",
		Status:      types.PlanRunStatusPending,
		TriggerType: types.PlanTriggerManual,
	}, []string{"build", "deploy"}, map[string]string{"build": "build", "deploy": "deploy"})
	if err != nil {
		t.Fatalf("InsertPlanRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected a generated plan run id")
	}
	if run.TotalSteps != 2 {
		t.Errorf("total_steps = %d, want 2", run.TotalSteps)
	}

	full, err := s.GetPlanRunWithSteps(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetPlanRunWithSteps: %v", err)
	}
	if len(full.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(full.Steps))
	}
	if full.Steps[0].Status != types.StepStatusPending {
		t.Errorf("step status = %v, want %v", full.Steps[0].Status, types.StepStatusPending)
	}
}

func TestGetPlanRunWithSteps_PreservesInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.InsertPlanRun(ctx, types.PlanRun{PlanName: "deploy", Status: types.PlanRunStatusPending},
		[]string{"a", "b", "c"}, map[string]string{"a": "a", "b": "b", "c": "c"})
	if err != nil {
		t.Fatalf("InsertPlanRun: %v", err)
	}

	full, err := s.GetPlanRunWithSteps(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetPlanRunWithSteps: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if full.Steps[i].StepName != name {
			t.Errorf("steps[%d] = %q, want %q", i, full.Steps[i].StepName, name)
		}
	}
}

func TestUpdateStep_AppendsLogAndSetsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.InsertPlanRun(ctx, types.PlanRun{PlanName: "deploy", Status: types.PlanRunStatusPending},
		[]string{"build"}, map[string]string{"build": "build"})
	if err != nil {
		t.Fatalf("InsertPlanRun: %v", err)
	}

	status := types.StepStatusRunning
	if _, err := s.UpdateStep(ctx, run.ID, "build", StepUpdate{Status: &status, AppendLog: "building\n"}); err != nil {
		t.Fatalf("UpdateStep: %v", err)
	}
	updated, err := s.UpdateStep(ctx, run.ID, "build", StepUpdate{AppendLog: "done\n"})
	if err != nil {
		t.Fatalf("UpdateStep (second): %v", err)
	}

	if updated.Status != types.StepStatusRunning {
		t.Errorf("status = %v, want %v", updated.Status, types.StepStatusRunning)
	}
	if updated.Logs != "building\ndone\n" {
		t.Errorf("logs = %q, want concatenated", updated.Logs)
	}
}

func TestUpdatePlanRun_AppliesSparseUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.InsertPlanRun(ctx, types.PlanRun{PlanName: "deploy", Status: types.PlanRunStatusPending},
		[]string{"build"}, map[string]string{"build": "build"})
	if err != nil {
		t.Fatalf("InsertPlanRun: %v", err)
	}

	status := types.PlanRunStatusSuccess
	completed := 1
	updated, err := s.UpdatePlanRun(ctx, run.ID, PlanRunUpdate{Status: &status, CompletedSteps: &completed})
	if err != nil {
		t.Fatalf("UpdatePlanRun: %v", err)
	}
	if updated.Status != types.PlanRunStatusSuccess {
		t.Errorf("status = %v, want %v", updated.Status, types.PlanRunStatusSuccess)
	}
	if updated.CompletedSteps != 1 {
		t.Errorf("completed_steps = %d, want 1", updated.CompletedSteps)
	}
}

func TestListPlanRuns_FiltersByPlanName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertPlanRun(ctx, types.PlanRun{PlanName: "deploy", Status: types.PlanRunStatusPending}, nil, nil); err != nil {
		t.Fatalf("InsertPlanRun: %v", err)
	}
	if _, err := s.InsertPlanRun(ctx, types.PlanRun{PlanName: "nightly", Status: types.PlanRunStatusPending}, nil, nil); err != nil {
		t.Fatalf("InsertPlanRun: %v", err)
	}

	rows, err := s.ListPlanRuns(ctx, "nightly", 0)
	if err != nil {
		t.Fatalf("ListPlanRuns: %v", err)
	}
	if len(rows) != 1 || rows[0].PlanName != "nightly" {
		t.Fatalf("expected only the nightly plan run, got %+v", rows)
	}
}

func TestCliExecution_InsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertCliExecution(ctx, types.CliExecution{Task: "build", ExitCode: 0, Host: "laptop"}); err != nil {
		t.Fatalf("InsertCliExecution: %v", err)
	}

	rows, err := s.ListCliExecutions(ctx, 0)
	if err != nil {
		t.Fatalf("ListCliExecutions: %v", err)
	}
	if len(rows) != 1 || rows[0].Task != "build" {
		t.Fatalf("expected the inserted execution, got %+v", rows)
	}
}

func TestChart_CreateListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chart, err := s.CreateChart(ctx, types.Chart{Name: "jobs-by-status", Type: "pie"})
	if err != nil {
		t.Fatalf("CreateChart: %v", err)
	}
	if chart.ID == "" {
		t.Fatal("expected a generated chart id")
	}

	all, err := s.ListCharts(ctx)
	if err != nil {
		t.Fatalf("ListCharts: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 chart, got %d", len(all))
	}

	if err := s.DeleteChart(ctx, chart.ID); err != nil {
		t.Fatalf("DeleteChart: %v", err)
	}
	all, err = s.ListCharts(ctx)
	if err != nil {
		t.Fatalf("ListCharts after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 charts after delete, got %d", len(all))
	}
}

func TestDeleteChart_NotFoundReturnsError(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteChart(context.Background(), "missing"); err == nil {
		t.Fatal("expected error deleting a nonexistent chart")
	}
}
