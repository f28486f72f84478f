// Package dispatch implements the Dispatcher (C4): given a pending job,
// route it either to a named node's push channel or to the Local Executor.
// Unifying both paths behind one Dispatcher avoids duplicating the
// job-lifecycle bookkeeping that would otherwise live in two places
// (spec.md §9 "dual dispatch path").
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/apperr"
	"github.com/ccxuy/easyrun/server/internal/localexec"
	"github.com/ccxuy/easyrun/server/internal/metrics"
	"github.com/ccxuy/easyrun/server/internal/registry"
	"github.com/ccxuy/easyrun/shared/types"
)

// Dispatcher routes freshly-created jobs to remote nodes or the Local
// Executor per spec.md §4.4's decision rule. It does not retry assignments;
// agent liveness failures are surfaced by the Agent Protocol.
type Dispatcher struct {
	reg   *registry.Registry
	local *localexec.Executor
	log   *zap.Logger
}

// New creates a Dispatcher.
func New(reg *registry.Registry, local *localexec.Executor, log *zap.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, local: local, log: log.Named("dispatch")}
}

// Dispatch routes job according to whether NodeID is set.
//
//   - NodeID set and the node exists: emit job_assigned over its channel,
//     leaving the job pending until the agent reports a result. The node's
//     current job is not checked, so a node that is already running a job
//     is sent the new one as well. If the node does not exist, fails
//     immediately with NodeUnknown.
//   - NodeID unset: hands to the Local Executor, which runs it on a pool
//     worker.
func (d *Dispatcher) Dispatch(ctx context.Context, job types.Job) error {
	if job.NodeID == nil || *job.NodeID == "" {
		return d.local.Enqueue(ctx, job)
	}

	nodeID := *job.NodeID
	if _, err := d.reg.Get(ctx, nodeID); err != nil {
		metrics.DispatchErrorsTotal.WithLabelValues(string(types.ErrKindNodeUnknown)).Inc()
		return apperr.Wrap(types.ErrKindNodeUnknown, "dispatch: node "+nodeID+" does not exist", err)
	}

	ch, connected := d.reg.Channel(nodeID)
	if !connected {
		// Node is known but currently has no live channel. The job stays
		// pending and is not sent later: nothing re-sends pending jobs on
		// reconnect, and the node's ping reports only its current job, which
		// is recorded only after a successful push.
		d.log.Warn("dispatch: node known but not connected, job stays pending", zap.String("node_id", nodeID), zap.String("job_id", job.ID))
		return nil
	}

	if err := ch.SendJobAssigned(job); err != nil {
		d.log.Warn("dispatch: failed to push job_assigned, job stays pending", zap.String("node_id", nodeID), zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	if err := d.reg.SetCurrentJob(ctx, nodeID, &job.ID); err != nil {
		d.log.Warn("dispatch: failed to record node's current job", zap.String("node_id", nodeID), zap.String("job_id", job.ID), zap.Error(err))
	}

	d.log.Info("dispatch: job assigned to node", zap.String("node_id", nodeID), zap.String("job_id", job.ID))
	return nil
}
