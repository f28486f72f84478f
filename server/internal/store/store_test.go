package store

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/shared/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")

	db, err := New(Config{Driver: "sqlite", DSN: dsn, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s, err := Open(db, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestInsertJob_AssignsIDWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.InsertJob(ctx, types.Job{Task: "build", Status: types.JobStatusPending})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a generated job id")
	}
	if job.Task != "build" {
		t.Errorf("task = %q, want %q", job.Task, "build")
	}
}

func TestGetJob_NotFoundReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetJob(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing job, got %v", err)
	}
}

func TestUpdateJob_AppendsLogAndSetsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.InsertJob(ctx, types.Job{Task: "build", Status: types.JobStatusPending})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	status := types.JobStatusRunning
	if _, err := s.UpdateJob(ctx, job.ID, JobUpdate{Status: &status, AppendLog: "line1\n"}); err != nil {
		t.Fatalf("UpdateJob (first): %v", err)
	}
	updated, err := s.UpdateJob(ctx, job.ID, JobUpdate{AppendLog: "line2\n"})
	if err != nil {
		t.Fatalf("UpdateJob (second): %v", err)
	}

	if updated.Status != types.JobStatusRunning {
		t.Errorf("status = %v, want %v", updated.Status, types.JobStatusRunning)
	}
	if updated.Logs != "line1\nline2\n" {
		t.Errorf("logs = %q, want concatenated lines", updated.Logs)
	}
}

func TestListJobs_FiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertJob(ctx, types.Job{Task: "a", Status: types.JobStatusSuccess}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if _, err := s.InsertJob(ctx, types.Job{Task: "b", Status: types.JobStatusFailed}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	rows, err := s.ListJobs(ctx, JobFilter{Status: string(types.JobStatusFailed)}, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(rows) != 1 || rows[0].Task != "b" {
		t.Errorf("expected only the failed job, got %+v", rows)
	}
}

func TestUpsertNode_CreatesThenUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.UpsertNode(ctx, types.Node{Name: "worker-1", Tags: []string{"os:linux"}, Status: types.NodeStatusOnline})
	if err != nil {
		t.Fatalf("UpsertNode (create): %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated node id")
	}

	updated, err := s.UpsertNode(ctx, types.Node{ID: created.ID, Name: "worker-1-renamed", Tags: []string{"os:linux"}, Status: types.NodeStatusOnline})
	if err != nil {
		t.Fatalf("UpsertNode (update): %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("expected the same node id to be reused, got %q vs %q", updated.ID, created.ID)
	}
	if updated.Name != "worker-1-renamed" {
		t.Errorf("name = %q, want updated name", updated.Name)
	}

	all, err := s.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one node after update-in-place, got %d", len(all))
	}
}

func TestSetNodeCurrentJob_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node, err := s.UpsertNode(ctx, types.Node{Name: "worker-1", Status: types.NodeStatusOnline})
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	jobID := "job-123"
	if err := s.SetNodeCurrentJob(ctx, node.ID, &jobID); err != nil {
		t.Fatalf("SetNodeCurrentJob: %v", err)
	}
	got, err := s.GetNode(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.CurrentJobID == nil || *got.CurrentJobID != jobID {
		t.Fatalf("CurrentJobID = %v, want %q", got.CurrentJobID, jobID)
	}

	if err := s.SetNodeCurrentJob(ctx, node.ID, nil); err != nil {
		t.Fatalf("SetNodeCurrentJob (clear): %v", err)
	}
	got, err = s.GetNode(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.CurrentJobID != nil {
		t.Fatalf("expected CurrentJobID cleared, got %v", *got.CurrentJobID)
	}
}

func TestRemoveNode_NotFoundReturnsError(t *testing.T) {
	s := newTestStore(t)
	if err := s.RemoveNode(context.Background(), "missing"); err == nil {
		t.Fatal("expected error removing a node that doesn't exist")
	}
}

func TestRemoveNode_DeletesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node, err := s.UpsertNode(ctx, types.Node{Name: "worker-1", Status: types.NodeStatusOnline})
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := s.RemoveNode(ctx, node.ID); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if _, err := s.GetNode(ctx, node.ID); err == nil {
		t.Fatal("expected node to be gone after RemoveNode")
	}
}

func TestSetNodeStatus_UpdatesLastSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node, err := s.UpsertNode(ctx, types.Node{Name: "worker-1", Status: types.NodeStatusOnline})
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	seen := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	if err := s.SetNodeStatus(ctx, node.ID, types.NodeStatusOffline, &seen); err != nil {
		t.Fatalf("SetNodeStatus: %v", err)
	}

	got, err := s.GetNode(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Status != types.NodeStatusOffline {
		t.Errorf("status = %v, want %v", got.Status, types.NodeStatusOffline)
	}
	if !got.LastSeen.Equal(seen) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, seen)
	}
}

func TestNewID_ProducesDistinct8CharHexIDs(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Fatal("expected two calls to NewID to produce distinct ids")
	}
	if len(a) != 8 {
		t.Errorf("id length = %d, want 8", len(a))
	}
	if _, err := hex.DecodeString(a); err != nil {
		t.Errorf("id %q is not hex: %v", a, err)
	}
}
