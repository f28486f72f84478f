// Package registry implements the Node Registry (C3): an in-memory
// directory of agents with liveness tracking, tags, and the identity of the
// outbound push channel to each. Persisted node rows live in the Store;
// this registry is a write-through cache — the only copy that knows about
// the live push channel, which is never persisted (spec.md §3).
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/metrics"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

// LivenessWindow is the maximum heartbeat age before a node is considered
// offline (spec.md §4.3 — numeric policy explicit because tests depend on it).
const LivenessWindow = 90 * time.Second

// Channel is the outbound push channel to one connected node. Implemented
// by internal/agentchannel; kept as an interface here so the registry does
// not depend on the transport.
type Channel interface {
	SendJobAssigned(job types.Job) error
}

type entry struct {
	node    types.Node
	channel Channel
}

// Registry is the in-memory node directory. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]*entry
	store   *store.Store
	bus     *eventbus.Bus
	log     *zap.Logger
}

// New creates a Registry backed by the given Store and Event Bus.
func New(st *store.Store, bus *eventbus.Bus, log *zap.Logger) *Registry {
	return &Registry{
		nodes: make(map[string]*entry),
		store: st,
		bus:   bus,
		log:   log.Named("registry"),
	}
}

// Register joins (or re-joins) the fleet. If the id already exists it is
// idempotently updated in place (spec.md §8 invariant 5) and, if a channel
// is supplied, the live push channel is attached or replaced.
func (r *Registry) Register(ctx context.Context, id, name string, tags []string, ch Channel) (types.Node, error) {
	now := time.Now().UTC()
	n := types.Node{ID: id, Name: name, Tags: tags, Status: types.NodeStatusOnline, LastSeen: now}
	saved, err := r.store.UpsertNode(ctx, n)
	if err != nil {
		return types.Node{}, fmt.Errorf("registry: register: %w", err)
	}

	r.mu.Lock()
	e, exists := r.nodes[saved.ID]
	if !exists {
		e = &entry{}
		r.nodes[saved.ID] = e
	}
	e.node = saved
	if ch != nil {
		e.channel = ch
	}
	r.mu.Unlock()

	r.log.Info("node registered", zap.String("node_id", saved.ID), zap.String("name", name), zap.Strings("tags", tags))
	r.bus.Publish(types.TopicNodeUpdate, saved)
	return saved, nil
}

// Heartbeat refreshes a node's last_seen and flips it back online if it had
// lapsed to offline between heartbeats. Returns a store.ErrNotFound-wrapped
// error for an unknown id rather than silently creating a phantom entry.
func (r *Registry) Heartbeat(ctx context.Context, id string) (types.Node, error) {
	if _, err := r.store.GetNode(ctx, id); err != nil {
		return types.Node{}, fmt.Errorf("registry: heartbeat: %w", err)
	}

	now := time.Now().UTC()
	if err := r.store.SetNodeStatus(ctx, id, types.NodeStatusOnline, &now); err != nil {
		return types.Node{}, fmt.Errorf("registry: heartbeat: %w", err)
	}

	r.mu.Lock()
	e, exists := r.nodes[id]
	if !exists {
		e = &entry{}
		r.nodes[id] = e
	}
	e.node.ID = id
	e.node.Status = types.NodeStatusOnline
	e.node.LastSeen = now
	snapshot := e.node
	r.mu.Unlock()

	return snapshot, nil
}

// List returns every known node (persisted view, via the Store, so it
// reflects nodes never seen live since this process started).
func (r *Registry) List(ctx context.Context) ([]types.Node, error) {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range nodes {
		if e, ok := r.nodes[nodes[i].ID]; ok {
			nodes[i].CurrentJobID = e.node.CurrentJobID
		}
	}
	return nodes, nil
}

// Get fetches a single node by id.
func (r *Registry) Get(ctx context.Context, id string) (types.Node, error) {
	return r.store.GetNode(ctx, id)
}

// Remove explicitly deletes a node record and its live channel, if any.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.nodes, id)
	r.mu.Unlock()
	if err := r.store.RemoveNode(ctx, id); err != nil {
		return fmt.Errorf("registry: remove: %w", err)
	}
	return nil
}

// Channel returns the live push channel for a connected node, or false if
// the node is not currently connected.
func (r *Registry) Channel(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[id]
	if !ok || e.channel == nil {
		return nil, false
	}
	return e.channel, true
}

// Disconnect drops the live channel for a node without removing its
// persisted record — used when an agent connection drops; the node stays
// known to the fleet until the liveness sweeper (or an operator) flips it
// offline or removes it.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	if e, ok := r.nodes[id]; ok {
		e.channel = nil
	}
	r.mu.Unlock()
}

// SetCurrentJob records which job a node is executing, in the cache and the
// Store. It does not check whether the node already has a job.
func (r *Registry) SetCurrentJob(ctx context.Context, id string, jobID *string) error {
	if err := r.store.SetNodeCurrentJob(ctx, id, jobID); err != nil {
		return fmt.Errorf("registry: set_current_job: %w", err)
	}
	r.mu.Lock()
	if e, ok := r.nodes[id]; ok {
		e.node.CurrentJobID = jobID
	}
	r.mu.Unlock()
	return nil
}

// Sweep flips to offline any node whose last_seen is older than
// LivenessWindow (spec.md §8 invariant 4). Intended to be run periodically
// by a gocron job at a 15-30s interval.
func (r *Registry) Sweep(ctx context.Context) error {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("registry: sweep: %w", err)
	}
	cutoff := time.Now().UTC().Add(-LivenessWindow)
	online := 0
	for _, n := range nodes {
		if n.Status == types.NodeStatusOnline && n.LastSeen.Before(cutoff) {
			if err := r.store.SetNodeStatus(ctx, n.ID, types.NodeStatusOffline, nil); err != nil {
				r.log.Error("sweep: failed to mark node offline", zap.String("node_id", n.ID), zap.Error(err))
				continue
			}
			r.mu.Lock()
			if e, ok := r.nodes[n.ID]; ok {
				e.node.Status = types.NodeStatusOffline
			}
			r.mu.Unlock()
			r.log.Info("node marked offline by liveness sweep", zap.String("node_id", n.ID))
			n.Status = types.NodeStatusOffline
			r.bus.Publish(types.TopicNodeUpdate, n)
		}
		if n.Status == types.NodeStatusOnline {
			online++
		}
	}
	metrics.NodesOnline.Set(float64(online))
	return nil
}
