package store

import (
	"context"
	"time"

	"github.com/ccxuy/easyrun/shared/types"
)

func nodeToDomain(m *NodeModel) types.Node {
	return types.Node{
		ID:           m.ID,
		Name:         m.Name,
		Tags:         splitTags(m.Tags),
		Status:       types.NodeStatus(m.Status),
		LastSeen:     m.LastSeen,
		CurrentJobID: m.CurrentJobID,
	}
}

// UpsertNode creates a node if n.ID is new, or updates name/tags/status/
// last_seen if it already exists — satisfying the idempotent-register
// testable property (spec.md §8, invariant 5).
func (s *Store) UpsertNode(ctx context.Context, n types.Node) (types.Node, error) {
	m := NodeModel{
		ID:       n.ID,
		Name:     n.Name,
		Tags:     joinTags(n.Tags),
		Status:   string(n.Status),
		LastSeen: n.LastSeen,
	}
	if m.ID != "" {
		var existing NodeModel
		err := s.db.WithContext(ctx).First(&existing, "id = ?", m.ID).Error
		if err == nil {
			existing.Name = m.Name
			existing.Tags = m.Tags
			existing.Status = m.Status
			existing.LastSeen = m.LastSeen
			if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
				return types.Node{}, wrap("upsert_node", err)
			}
			return nodeToDomain(&existing), nil
		}
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return types.Node{}, wrap("upsert_node", err)
	}
	return nodeToDomain(&m), nil
}

// ListNodes returns every known node.
func (s *Store) ListNodes(ctx context.Context) ([]types.Node, error) {
	var rows []NodeModel
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, wrap("list_nodes", err)
	}
	out := make([]types.Node, len(rows))
	for i := range rows {
		out[i] = nodeToDomain(&rows[i])
	}
	return out, nil
}

// GetNode fetches a single node by id.
func (s *Store) GetNode(ctx context.Context, id string) (types.Node, error) {
	var m NodeModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return types.Node{}, wrap("get_node", err)
	}
	return nodeToDomain(&m), nil
}

// SetNodeStatus updates a node's status and last_seen in one write.
func (s *Store) SetNodeStatus(ctx context.Context, id string, status types.NodeStatus, lastSeen *time.Time) error {
	updates := map[string]any{"status": string(status)}
	if lastSeen != nil {
		updates["last_seen"] = *lastSeen
	}
	err := s.db.WithContext(ctx).Model(&NodeModel{}).Where("id = ?", id).Updates(updates).Error
	return wrap("set_node_status", err)
}

// SetNodeCurrentJob records (or clears, with nil) which job a node is
// currently assigned. Neither this method nor the Dispatcher checks that
// the node has no other non-terminal job.
func (s *Store) SetNodeCurrentJob(ctx context.Context, id string, jobID *string) error {
	err := s.db.WithContext(ctx).Model(&NodeModel{}).Where("id = ?", id).Update("current_job_id", jobID).Error
	return wrap("set_node_current_job", err)
}

// RemoveNode deletes a node record. Explicit only — nodes are never removed
// implicitly by the liveness sweeper.
func (s *Store) RemoveNode(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&NodeModel{}, "id = ?", id)
	if res.Error != nil {
		return wrap("remove_node", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("remove_node", ErrNotFound)
	}
	return nil
}
