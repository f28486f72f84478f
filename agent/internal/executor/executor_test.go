package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *fakeSink) SendLog(jobID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

type fakeReporter struct {
	mu      sync.Mutex
	results map[string]Result
	done    chan struct{}
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{results: make(map[string]Result), done: make(chan struct{}, 16)}
}

func (r *fakeReporter) ReportResult(jobID string, result Result) {
	r.mu.Lock()
	r.results[jobID] = result
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *fakeReporter) get(jobID string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[jobID]
	return res, ok
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitForResult(t *testing.T, reporter *fakeReporter, jobID string) Result {
	t.Helper()
	select {
	case <-reporter.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job result")
	}
	res, ok := reporter.get(jobID)
	if !ok {
		t.Fatalf("no result recorded for job %s", jobID)
	}
	return res
}

func TestExecutor_SuccessfulJobReportsSuccessStatus(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "echo hello from task\nexit 0\n")

	e := New(Config{TaskRunnerPath: script, Taskfile: "Taskfile.yml"}, zap.NewNop())
	sink := &fakeSink{}
	reporter := newFakeReporter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, sink, reporter)

	if err := e.Enqueue(JobAssignment{JobID: "job-1", Task: "build"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result := waitForResult(t, reporter, "job-1")
	if result.Status != "success" {
		t.Errorf("status = %q, want %q", result.Status, "success")
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", result.ExitCode)
	}
}

func TestExecutor_FailingJobCapturesExitCode(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "echo failing\nexit 7\n")

	e := New(Config{TaskRunnerPath: script, Taskfile: "Taskfile.yml"}, zap.NewNop())
	sink := &fakeSink{}
	reporter := newFakeReporter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, sink, reporter)

	if err := e.Enqueue(JobAssignment{JobID: "job-2", Task: "build"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result := waitForResult(t, reporter, "job-2")
	if result.Status != "failed" {
		t.Errorf("status = %q, want %q", result.Status, "failed")
	}
	if result.ExitCode == nil || *result.ExitCode != 7 {
		t.Errorf("exit code = %v, want 7", result.ExitCode)
	}
}

func TestExecutor_VarsArePassedAsEnvironment(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "echo \"GREETING=$GREETING\"\nexit 0\n")

	e := New(Config{TaskRunnerPath: script, Taskfile: "Taskfile.yml"}, zap.NewNop())
	sink := &fakeSink{}
	reporter := newFakeReporter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, sink, reporter)

	if err := e.Enqueue(JobAssignment{JobID: "job-3", Task: "build", Vars: map[string]string{"GREETING": "hi"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result := waitForResult(t, reporter, "job-3")
	if !strings.Contains(result.Logs, "GREETING=hi") {
		t.Errorf("expected logs to contain passed var, got: %q", result.Logs)
	}
}

func TestExecutor_EnqueueRejectsWhenQueueFull(t *testing.T) {
	e := New(Config{TaskRunnerPath: "/bin/true"}, zap.NewNop())

	for i := 0; i < queueSize; i++ {
		if err := e.Enqueue(JobAssignment{JobID: "filler"}); err != nil {
			t.Fatalf("unexpected error filling queue at %d: %v", i, err)
		}
	}
	if err := e.Enqueue(JobAssignment{JobID: "overflow"}); err == nil {
		t.Fatal("expected Enqueue to reject once the queue is full")
	}
}
