package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

type fakeChannel struct {
	sent []types.Job
}

func (c *fakeChannel) SendJobAssigned(job types.Job) error {
	c.sent = append(c.sent, job)
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")

	db, err := store.New(store.Config{Driver: "sqlite", DSN: dsn, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	st, err := store.Open(db, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)

	return New(st, bus, zap.NewNop())
}

func TestRegister_AssignsIDAndIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, "", "worker-1", []string{"os:linux"}, nil)
	if err != nil {
		t.Fatalf("Register (first): %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected a generated node id")
	}

	second, err := r.Register(ctx, first.ID, "worker-1-renamed", []string{"os:linux"}, nil)
	if err != nil {
		t.Fatalf("Register (second): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected re-registration to reuse the id, got %q vs %q", second.ID, first.ID)
	}

	nodes, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected exactly one node after idempotent re-register, got %d", len(nodes))
	}
}

func TestRegister_AttachesLiveChannel(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	ch := &fakeChannel{}

	node, err := r.Register(ctx, "", "worker-1", nil, ch)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Channel(node.ID)
	if !ok || got != ch {
		t.Fatal("expected the registered channel to be retrievable via Channel")
	}
}

func TestChannel_UnknownNodeReturnsFalse(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.Channel("nonexistent"); ok {
		t.Fatal("expected Channel to report false for an unregistered node")
	}
}

func TestDisconnect_DropsChannelButKeepsNode(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	ch := &fakeChannel{}

	node, err := r.Register(ctx, "", "worker-1", nil, ch)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Disconnect(node.ID)

	if _, ok := r.Channel(node.ID); ok {
		t.Fatal("expected channel to be gone after Disconnect")
	}
	if _, err := r.Get(ctx, node.ID); err != nil {
		t.Fatalf("expected node record to survive Disconnect, got error: %v", err)
	}
}

func TestSetCurrentJob_UpdatesBothCacheAndStore(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Register(ctx, "", "worker-1", nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	jobID := "job-1"
	if err := r.SetCurrentJob(ctx, node.ID, &jobID); err != nil {
		t.Fatalf("SetCurrentJob: %v", err)
	}

	persisted, err := r.Get(ctx, node.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if persisted.CurrentJobID == nil || *persisted.CurrentJobID != jobID {
		t.Fatalf("store CurrentJobID = %v, want %q", persisted.CurrentJobID, jobID)
	}

	nodes, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(nodes) != 1 || nodes[0].CurrentJobID == nil || *nodes[0].CurrentJobID != jobID {
		t.Fatalf("List should reflect the cached current job, got %+v", nodes)
	}
}

func TestSweep_MarksStaleNodeOffline(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Register(ctx, "", "worker-1", nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	stale := time.Now().UTC().Add(-2 * LivenessWindow)
	if err := r.store.SetNodeStatus(ctx, node.ID, types.NodeStatusOnline, &stale); err != nil {
		t.Fatalf("SetNodeStatus (backdate): %v", err)
	}

	if err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := r.Get(ctx, node.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.NodeStatusOffline {
		t.Errorf("status = %v, want %v after sweep past the liveness window", got.Status, types.NodeStatusOffline)
	}
}

func TestSweep_LeavesFreshNodeOnline(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Register(ctx, "", "worker-1", nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := r.Get(ctx, node.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.NodeStatusOnline {
		t.Errorf("status = %v, want %v for a freshly registered node", got.Status, types.NodeStatusOnline)
	}
}

func TestRemove_DropsChannelAndPersistedRecord(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	ch := &fakeChannel{}

	node, err := r.Register(ctx, "", "worker-1", nil, ch)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Remove(ctx, node.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok := r.Channel(node.ID); ok {
		t.Fatal("expected channel to be gone after Remove")
	}
	if _, err := r.Get(ctx, node.ID); err == nil {
		t.Fatal("expected node record to be gone after Remove")
	}
}
