package store

import (
	"context"

	"github.com/ccxuy/easyrun/shared/types"
)

func cliExecToDomain(m *CliExecutionModel) types.CliExecution {
	return types.CliExecution{
		ID:        m.ID,
		Task:      m.Task,
		ExitCode:  m.ExitCode,
		Duration:  m.Duration,
		Host:      m.Host,
		Workspace: m.Workspace,
		Params:    unmarshalMap(m.Params),
		Timestamp: m.Timestamp,
	}
}

// InsertCliExecution records a post-hoc CLI-reported task invocation.
// Append-only — there is no update or delete operation.
func (s *Store) InsertCliExecution(ctx context.Context, e types.CliExecution) (types.CliExecution, error) {
	m := CliExecutionModel{
		Task:      e.Task,
		ExitCode:  e.ExitCode,
		Duration:  e.Duration,
		Host:      e.Host,
		Workspace: e.Workspace,
		Params:    marshalMap(e.Params),
		Timestamp: e.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return types.CliExecution{}, wrap("insert_cli_execution", err)
	}
	return cliExecToDomain(&m), nil
}

// ListCliExecutions returns the most recent CLI-reported executions.
func (s *Store) ListCliExecutions(ctx context.Context, limit int) ([]types.CliExecution, error) {
	q := s.db.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []CliExecutionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list_cli_executions", err)
	}
	out := make([]types.CliExecution, len(rows))
	for i := range rows {
		out[i] = cliExecToDomain(&rows[i])
	}
	return out, nil
}

func chartToDomain(m *ChartModel) types.Chart {
	return types.Chart{
		ID:        m.ID,
		Name:      m.Name,
		Type:      m.Type,
		Formula:   m.Formula,
		Config:    m.Config,
		CreatedAt: m.CreatedAt,
	}
}

// CreateChart inserts a new chart definition (presentation-only metadata).
func (s *Store) CreateChart(ctx context.Context, c types.Chart) (types.Chart, error) {
	m := ChartModel{ID: c.ID, Name: c.Name, Type: c.Type, Formula: c.Formula, Config: c.Config}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return types.Chart{}, wrap("create_chart", err)
	}
	return chartToDomain(&m), nil
}

// ListCharts returns every chart.
func (s *Store) ListCharts(ctx context.Context) ([]types.Chart, error) {
	var rows []ChartModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, wrap("list_charts", err)
	}
	out := make([]types.Chart, len(rows))
	for i := range rows {
		out[i] = chartToDomain(&rows[i])
	}
	return out, nil
}

// DeleteChart removes a chart by id.
func (s *Store) DeleteChart(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ChartModel{}, "id = ?", id)
	if res.Error != nil {
		return wrap("delete_chart", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("delete_chart", ErrNotFound)
	}
	return nil
}
