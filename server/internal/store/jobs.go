package store

import (
	"context"
	"time"

	"github.com/ccxuy/easyrun/shared/types"
)

func jobToDomain(m *JobModel) types.Job {
	return types.Job{
		ID:         m.ID,
		Task:       m.Task,
		NodeID:     m.NodeID,
		Vars:       unmarshalMap(m.Vars),
		Status:     types.JobStatus(m.Status),
		ExitCode:   m.ExitCode,
		Logs:       m.Logs,
		CreatedAt:  m.CreatedAt,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}

// InsertJob creates a new job record. If j.ID is empty, BeforeCreate assigns
// one.
func (s *Store) InsertJob(ctx context.Context, j types.Job) (types.Job, error) {
	m := JobModel{
		ID:        j.ID,
		Task:      j.Task,
		NodeID:    j.NodeID,
		Vars:      marshalMap(j.Vars),
		Status:    string(j.Status),
		StartedAt: j.StartedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return types.Job{}, wrap("insert_job", err)
	}
	return jobToDomain(&m), nil
}

// JobUpdate is a sparse set of fields to apply to an existing job. Nil
// fields are left untouched; AppendLog, when set, is concatenated onto the
// existing log text rather than replacing it.
type JobUpdate struct {
	Status     *types.JobStatus
	ExitCode   *int
	AppendLog  string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// UpdateJob applies a sparse update to a job, matching the Store's
// update_job operation (spec.md §4.1).
func (s *Store) UpdateJob(ctx context.Context, id string, u JobUpdate) (types.Job, error) {
	var m JobModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return types.Job{}, wrap("update_job", err)
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
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return types.Job{}, wrap("update_job", err)
	}
	return jobToDomain(&m), nil
}

// GetJob fetches a single job by id.
func (s *Store) GetJob(ctx context.Context, id string) (types.Job, error) {
	var m JobModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return types.Job{}, wrap("get_job", err)
	}
	return jobToDomain(&m), nil
}

// JobFilter narrows ListJobs by optional node, status, or task.
type JobFilter struct {
	NodeID string
	Status string
	Task   string
}

// ListJobs returns jobs matching filter, most recent first, bounded by
// limit (0 means unbounded).
func (s *Store) ListJobs(ctx context.Context, filter JobFilter, limit int) ([]types.Job, error) {
	q := s.db.WithContext(ctx).Model(&JobModel{}).Order("created_at DESC")
	if filter.NodeID != "" {
		q = q.Where("node_id = ?", filter.NodeID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Task != "" {
		q = q.Where("task = ?", filter.Task)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []JobModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list_jobs", err)
	}
	out := make([]types.Job, len(rows))
	for i := range rows {
		out[i] = jobToDomain(&rows[i])
	}
	return out, nil
}
