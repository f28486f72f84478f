// Package executor manages the agent's job queue and runs tasks by
// spawning the task-runner binary as a subprocess. It sits between the
// connection manager (which receives job assignments from the server over
// the agent channel) and os/exec.
//
// The executor runs one job at a time (sequential execution) so a single
// agent never has two task-runner processes competing for the same host.
// The server does not check whether a node already has a job running before
// it dispatches another; further assignments wait in the queue and run one
// after the other.
//
// Interfaces:
//   - LogSink: implemented by the connection manager, receives log lines
//     produced during execution and forwards them to the server as job_log
//     frames.
//   - StatusReporter: implemented by the connection manager, receives the
//     job's terminal outcome and forwards it via the result HTTP endpoint.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/agent/internal/ansi"
)

// LogSink receives log lines produced during job execution and forwards
// them to the server. Implemented by the connection manager.
type LogSink interface {
	SendLog(jobID, line string)
}

// StatusReporter receives a job's terminal outcome and forwards it to the
// server. Implemented by the connection manager.
type StatusReporter interface {
	ReportResult(jobID string, result Result)
}

// JobAssignment is the internal representation of a job received from the
// server's job_assigned frame.
type JobAssignment struct {
	JobID string
	Task  string
	Vars  map[string]string
}

// queueSize is the maximum number of jobs buffered while waiting to be
// executed. The server can assign a job while another is still running, so
// assignments beyond the running one wait here; Enqueue rejects any beyond
// queueSize.
const queueSize = 16

// timeout is the task-runner's hard wall-clock limit, matching the Local
// Executor's own contract (spec.md §4.5) so a task behaves identically
// whether the server ran it itself or dispatched it to an agent.
const timeout = 3600 * time.Second

// Config holds the executor's external dependencies: the task-runner
// binary path and the taskfile it reads task definitions from.
type Config struct {
	TaskRunnerPath string
	Taskfile       string
}

// Result is the outcome of one task-runner invocation.
type Result struct {
	Status   string
	ExitCode *int
	Logs     string
}

// Executor receives job assignments, queues them, and runs them one at a
// time via the task-runner binary.
type Executor struct {
	cfg    Config
	queue  chan JobAssignment
	logger *zap.Logger
}

// New creates an Executor. Call Run to start the worker loop.
func New(cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		queue:  make(chan JobAssignment, queueSize),
		logger: logger.Named("executor"),
	}
}

// Run starts the worker loop. It blocks until ctx is cancelled, processing
// one job at a time from the queue. sink and reporter are provided here
// (not at construction) because they are implemented by the connection
// manager, which is built after the executor.
func (e *Executor) Run(ctx context.Context, sink LogSink, reporter StatusReporter) {
	e.logger.Info("executor started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("executor stopped")
			return
		case job := <-e.queue:
			e.execute(ctx, job, sink, reporter)
		}
	}
}

// Enqueue adds a job to the queue. Non-blocking — returns an error if the
// queue is full; the caller logs and discards the job. The server does not
// re-send a discarded assignment, so that job stays pending on the server.
func (e *Executor) Enqueue(job JobAssignment) error {
	select {
	case e.queue <- job:
		e.logger.Info("job enqueued", zap.String("job_id", job.JobID), zap.String("task", job.Task))
		return nil
	default:
		return fmt.Errorf("executor: job queue full, rejecting job %s", job.JobID)
	}
}

// execute runs one job to completion: spawn the task-runner, stream
// output to the sink as it arrives, and report the final result.
func (e *Executor) execute(ctx context.Context, job JobAssignment, sink LogSink, reporter StatusReporter) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-t", e.cfg.Taskfile, job.Task}
	cmd := exec.CommandContext(runCtx, e.cfg.TaskRunnerPath, args...)
	cmd.Env = append(os.Environ(), envFromVars(job.Vars)...)

	var captured bytes.Buffer
	writer := io.MultiWriter(&captured, sinkWriter{jobID: job.JobID, sink: sink})
	cmd.Stdout = writer
	cmd.Stderr = writer

	e.logger.Info("job started", zap.String("job_id", job.JobID), zap.String("task", job.Task))
	runErr := cmd.Run()

	var status string
	var exitCode *int
	var tail string

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		status = "timeout"
		tail = "\n[executor] job exceeded 3600s wall-clock timeout, killed\n"
	case runErr == nil:
		status = "success"
		code := 0
		exitCode = &code
	default:
		var exitErr *exec.ExitError
		if ok := asExitError(runErr, &exitErr); ok {
			status = "failed"
			code := exitErr.ExitCode()
			exitCode = &code
		} else {
			status = "error"
			tail = "\n[executor] " + runErr.Error() + "\n"
		}
	}

	e.logger.Info("job finished", zap.String("job_id", job.JobID), zap.String("status", status))
	reporter.ReportResult(job.JobID, Result{
		Status:   status,
		ExitCode: exitCode,
		Logs:     ansi.Strip(captured.String()) + tail,
	})
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func envFromVars(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out
}

// sinkWriter feeds written bytes into the LogSink line by line as output
// arrives, so the server sees job output live rather than only on
// completion.
type sinkWriter struct {
	jobID string
	sink  LogSink
}

func (w sinkWriter) Write(p []byte) (int, error) {
	w.sink.SendLog(w.jobID, ansi.Strip(string(p)))
	return len(p), nil
}
