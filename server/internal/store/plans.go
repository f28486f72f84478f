package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ccxuy/easyrun/shared/types"
)

func planRunToDomain(m *PlanRunModel) types.PlanRun {
	return types.PlanRun{
		ID:             m.ID,
		PlanName:       m.PlanName,
		Status:         types.PlanRunStatus(m.Status),
		Params:         unmarshalMap(m.Params),
		TriggerType:    types.PlanTrigger(m.TriggerType),
		TotalSteps:     m.TotalSteps,
		CompletedSteps: m.CompletedSteps,
		Duration:       m.Duration,
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
	}
}

func stepToDomain(m *PlanRunStepModel) types.PlanRunStep {
	return types.PlanRunStep{
		RunID:      m.RunID,
		StepName:   m.StepName,
		TaskName:   m.TaskName,
		Status:     types.PlanRunStepStatus(m.Status),
		ExitCode:   m.ExitCode,
		Logs:       m.Logs,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Duration:   m.Duration,
	}
}

// InsertPlanRun creates a new plan run along with its (initially pending)
// steps, in a single transaction.
func (s *Store) InsertPlanRun(ctx context.Context, r types.PlanRun, stepNames []string, taskOf map[string]string) (types.PlanRun, error) {
	m := PlanRunModel{
		ID:          r.ID,
		PlanName:    r.PlanName,
		Status:      string(r.Status),
		Params:      marshalMap(r.Params),
		TriggerType: string(r.TriggerType),
		TotalSteps:  len(stepNames),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		for _, name := range stepNames {
			step := PlanRunStepModel{
				RunID:     m.ID,
				StepName:  name,
				TaskName:  taskOf[name],
				Status:    string(types.StepStatusPending),
				CreatedAt: time.Now(),
			}
			if err := tx.Create(&step).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.PlanRun{}, wrap("insert_plan_run", err)
	}
	return planRunToDomain(&m), nil
}

// PlanRunUpdate is a sparse set of fields to apply to an existing plan run.
type PlanRunUpdate struct {
	Status         *types.PlanRunStatus
	CompletedSteps *int
	Duration       *float64
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// UpdatePlanRun applies a sparse update to a plan run.
func (s *Store) UpdatePlanRun(ctx context.Context, id string, u PlanRunUpdate) (types.PlanRun, error) {
	var m PlanRunModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return types.PlanRun{}, wrap("update_plan_run", err)
	}
	if u.Status != nil {
		m.Status = string(*u.Status)
	}
	if u.CompletedSteps != nil {
		m.CompletedSteps = *u.CompletedSteps
	}
	if u.Duration != nil {
		m.Duration = u.Duration
	}
	if u.StartedAt != nil {
		m.StartedAt = u.StartedAt
	}
	if u.FinishedAt != nil {
		m.FinishedAt = u.FinishedAt
	}
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return types.PlanRun{}, wrap("update_plan_run", err)
	}
	return planRunToDomain(&m), nil
}

// ListPlanRuns returns plan runs, optionally filtered by plan name, most
// recent first.
func (s *Store) ListPlanRuns(ctx context.Context, planName string, limit int) ([]types.PlanRun, error) {
	q := s.db.WithContext(ctx).Model(&PlanRunModel{}).Order("created_at DESC")
	if planName != "" {
		q = q.Where("plan_name = ?", planName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []PlanRunModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list_plan_runs", err)
	}
	out := make([]types.PlanRun, len(rows))
	for i := range rows {
		out[i] = planRunToDomain(&rows[i])
	}
	return out, nil
}

// GetPlanRunWithSteps fetches a plan run and all of its steps, ordered by
// insertion (the round-trip testable property, spec.md §8 invariant 6).
func (s *Store) GetPlanRunWithSteps(ctx context.Context, id string) (types.PlanRun, error) {
	var m PlanRunModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return types.PlanRun{}, wrap("get_plan_run_with_steps", err)
	}
	var steps []PlanRunStepModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Order("created_at").Find(&steps).Error; err != nil {
		return types.PlanRun{}, wrap("get_plan_run_with_steps", err)
	}
	run := planRunToDomain(&m)
	run.Steps = make([]types.PlanRunStep, len(steps))
	for i := range steps {
		run.Steps[i] = stepToDomain(&steps[i])
	}
	return run, nil
}

// StepUpdate is a sparse set of fields to apply to a plan run step.
type StepUpdate struct {
	Status     *types.PlanRunStepStatus
	ExitCode   *int
	AppendLog  string
	StartedAt  *time.Time
	FinishedAt *time.Time
	Duration   *float64
}

// UpdateStep applies a sparse update to the (runID, stepName) step.
func (s *Store) UpdateStep(ctx context.Context, runID, stepName string, u StepUpdate) (types.PlanRunStep, error) {
	var m PlanRunStepModel
	if err := s.db.WithContext(ctx).First(&m, "run_id = ? AND step_name = ?", runID, stepName).Error; err != nil {
		return types.PlanRunStep{}, wrap("update_step", err)
	}
	if u.Status != nil {
		m.Status = string(*u.Status)
	}
	if u.ExitCode != nil {
		m.ExitCode = u.ExitCode
	}
	if u.AppendLog != "" {
		m.Logs += u.AppendLog
	}
	if u.StartedAt != nil {
		m.StartedAt = u.StartedAt
	}
	if u.FinishedAt != nil {
		m.FinishedAt = u.FinishedAt
	}
	if u.Duration != nil {
		m.Duration = u.Duration
	}
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return types.PlanRunStep{}, wrap("update_step", err)
	}
	return stepToDomain(&m), nil
}

// GetStepLogs fetches logs and status for a single step (the
// /plans/runs/{id}/steps/{name}/logs endpoint, spec.md §6).
func (s *Store) GetStepLogs(ctx context.Context, runID, stepName string) (types.PlanRunStep, error) {
	var m PlanRunStepModel
	if err := s.db.WithContext(ctx).First(&m, "run_id = ? AND step_name = ?", runID, stepName).Error; err != nil {
		return types.PlanRunStep{}, wrap("get_step_logs", err)
	}
	return stepToDomain(&m), nil
}
