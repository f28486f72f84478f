// Package localexec implements the Local Executor (C5): a bounded worker
// pool that runs jobs with no node_id by spawning the task-runner binary as
// a subprocess (spec.md §4.5). Grounded on the teacher's
// agent/internal/executor/executor.go queue/worker-loop shape, adapted from
// a single-job agent-side queue to a server-side worker pool sized per
// spec.md §5 (runtime.NumCPU(), minimum 4).
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/ansi"
	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/logbuf"
	"github.com/ccxuy/easyrun/server/internal/metrics"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

// queueSize bounds the number of jobs waiting for a free worker. Jobs beyond
// this limit are rejected; the error is unclassified, so the API layer
// surfaces it as a StoreError (HTTP 500) rather than blocking the request.
const queueSize = 256

// timeout is the Local Executor's hard wall-clock limit per spec.md §4.5.
const timeout = 3600 * time.Second

// Config holds the Local Executor's external dependencies: the task-runner
// binary path and the taskfile it reads task definitions from. Both are
// opaque to the core (spec.md §1's out-of-scope collaborators).
type Config struct {
	TaskRunnerPath string
	Taskfile       string
}

// Executor runs jobs with no node_id on a bounded pool of workers.
type Executor struct {
	cfg      Config
	store    *store.Store
	bus      *eventbus.Bus
	logs     *logbuf.Registry
	queue    chan types.Job
	poolSize int
	log      *zap.Logger
}

// New creates an Executor. poolSize <= 0 selects runtime.NumCPU(), floored
// at 4 (spec.md §5). Call Run to start the worker pool.
func New(cfg Config, st *store.Store, bus *eventbus.Bus, logs *logbuf.Registry, poolSize int, log *zap.Logger) *Executor {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	if poolSize < 4 {
		poolSize = 4
	}
	return &Executor{
		cfg:      cfg,
		store:    st,
		bus:      bus,
		logs:     logs,
		queue:    make(chan types.Job, queueSize),
		poolSize: poolSize,
		log:      log.Named("localexec"),
	}
}

// Run starts the worker pool, each pulling jobs off the queue until ctx is
// cancelled. Blocks until every worker has exited.
func (e *Executor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(e.poolSize)
	for i := 0; i < e.poolSize; i++ {
		go func(worker int) {
			defer wg.Done()
			e.worker(ctx, worker)
		}(i)
	}
	e.log.Info("local executor started", zap.Int("pool_size", e.poolSize))
	<-ctx.Done()
	wg.Wait()
	e.log.Info("local executor stopped")
}

func (e *Executor) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.queue:
			e.execute(ctx, job)
		}
	}
}

// Enqueue accepts a pending job for local execution. Non-blocking — returns
// an error if the queue is full rather than stalling the submitter.
func (e *Executor) Enqueue(ctx context.Context, job types.Job) error {
	select {
	case e.queue <- job:
		e.log.Info("job enqueued", zap.String("job_id", job.ID), zap.String("task", job.Task))
		return nil
	default:
		return fmt.Errorf("localexec: queue full, rejecting job %s", job.ID)
	}
}

// execute runs one job to completion: spawn, capture, finalize. Every
// transition writes through the Store and publishes job.update, per
// spec.md §4.5.
func (e *Executor) execute(ctx context.Context, job types.Job) {
	buf := e.logs.Open(job.ID)
	now := time.Now()

	if _, err := e.store.UpdateJob(ctx, job.ID, store.JobUpdate{
		Status:    statusPtr(types.JobStatusRunning),
		StartedAt: &now,
	}); err != nil {
		e.log.Error("failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
	}
	e.bus.Publish(types.TopicJobUpdate, map[string]string{"job_id": job.ID, "status": string(types.JobStatusRunning)})

	result := Spawn(ctx, e.cfg, job.Task, job.Vars, buf)

	// A job cancelled while its subprocess ran keeps its cancelled status;
	// the subprocess's exit code and output are still recorded.
	final := result.Status
	if cur, err := e.store.GetJob(ctx, job.ID); err == nil && cur.Status == types.JobStatusCancelled {
		final = types.JobStatusCancelled
	}

	if _, err := e.store.UpdateJob(ctx, job.ID, store.JobUpdate{
		Status:     statusPtr(final),
		ExitCode:   result.ExitCode,
		AppendLog:  result.Logs,
		FinishedAt: &result.FinishedAt,
	}); err != nil {
		e.log.Error("failed to finalize job", zap.String("job_id", job.ID), zap.Error(err))
	}
	e.bus.Publish(types.TopicJobUpdate, map[string]string{"job_id": job.ID, "status": string(final)})
	e.log.Info("job finished", zap.String("job_id", job.ID), zap.String("status", string(final)))

	metrics.JobsTotal.WithLabelValues(string(final)).Inc()
	metrics.JobDuration.WithLabelValues(string(final)).Observe(result.FinishedAt.Sub(now).Seconds())
}

func statusPtr(s types.JobStatus) *types.JobStatus { return &s }

// Result is the outcome of one Spawn call.
type Result struct {
	Status     types.JobStatus
	ExitCode   *int
	Logs       string
	FinishedAt time.Time
}

// Spawn runs the task-runner binary for one task invocation per spec.md
// §4.5's exact contract, shared by the worker-pool path above (Executor)
// and the Plan Runner (C7), which invokes tasks directly rather than
// through the queue since it must observe each step's result before
// deciding the next iteration's readiness. live, if non-nil, receives
// output as it streams for SSE tailing; the full captured text is always
// returned for persistence regardless.
func Spawn(ctx context.Context, cfg Config, task string, vars map[string]string, live *logbuf.Buffer) Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-t", cfg.Taskfile, task}
	cmd := exec.CommandContext(runCtx, cfg.TaskRunnerPath, args...)
	cmd.Env = append(os.Environ(), envFromVars(vars)...)

	var captured bytes.Buffer
	var writer io.Writer = &captured
	if live != nil {
		writer = io.MultiWriter(&captured, lineWriter{live})
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	runErr := cmd.Run()
	finished := time.Now()

	var status types.JobStatus
	var exitCode *int
	var logTail string

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		status = types.JobStatusTimeout
		logTail = "\n[localexec] job exceeded 3600s wall-clock timeout, killed\n"
	case runErr == nil:
		status = types.JobStatusSuccess
		code := 0
		exitCode = &code
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			status = types.JobStatusFailed
			code := exitErr.ExitCode()
			exitCode = &code
		} else {
			status = types.JobStatusError
			logTail = "\n[localexec] " + runErr.Error() + "\n"
		}
	}

	if live != nil {
		live.Append(logTail)
		live.Finalize(status)
	}

	return Result{
		Status:     status,
		ExitCode:   exitCode,
		Logs:       ansi.Strip(captured.String()) + logTail,
		FinishedAt: finished,
	}
}

func envFromVars(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out
}

// lineWriter feeds written bytes into a logbuf.Buffer as they arrive, so SSE
// tailing sees output live rather than only at job completion.
type lineWriter struct {
	buf *logbuf.Buffer
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.buf.Append(ansi.Strip(string(p)))
	return len(p), nil
}
