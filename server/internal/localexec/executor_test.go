package localexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/logbuf"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestSpawn_SuccessfulRunCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "echo hello\nexit 0\n")

	result := Spawn(context.Background(), Config{TaskRunnerPath: script, Taskfile: "Taskfile.yml"}, "build", nil, nil)

	if result.Status != types.JobStatusSuccess {
		t.Errorf("status = %v, want %v", result.Status, types.JobStatusSuccess)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", result.ExitCode)
	}
	if result.FinishedAt.IsZero() {
		t.Error("expected FinishedAt to be set")
	}
}

func TestSpawn_FailingRunCapturesExitCode(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "exit 3\n")

	result := Spawn(context.Background(), Config{TaskRunnerPath: script, Taskfile: "Taskfile.yml"}, "build", nil, nil)

	if result.Status != types.JobStatusFailed {
		t.Errorf("status = %v, want %v", result.Status, types.JobStatusFailed)
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", result.ExitCode)
	}
}

func TestSpawn_StreamsToLiveBuffer(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "echo streamed\nexit 0\n")

	buf := &logbuf.Buffer{}
	result := Spawn(context.Background(), Config{TaskRunnerPath: script, Taskfile: "Taskfile.yml"}, "build", nil, buf)
	if result.Status != types.JobStatusSuccess {
		t.Fatalf("status = %v, want %v", result.Status, types.JobStatusSuccess)
	}

	lines, _, _, _ := buf.Since(0)
	if len(lines) == 0 {
		t.Fatal("expected live buffer to have received streamed output")
	}
}

func newTestExecutor(t *testing.T, taskRunnerPath string) (*Executor, *store.Store) {
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

	e := New(Config{TaskRunnerPath: taskRunnerPath, Taskfile: "Taskfile.yml"}, st, bus, logbuf.NewRegistry(), 2, zap.NewNop())
	return e, st
}

func TestExecutor_RunsEnqueuedJobAndFinalizesInStore(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "echo done\nexit 0\n")

	e, st := newTestExecutor(t, script)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	job, err := st.InsertJob(context.Background(), types.Job{Task: "build", Status: types.JobStatusPending})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := e.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == types.JobStatusSuccess {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for job to finalize as success")
}

func TestExecutor_EnqueueRejectsWhenQueueFull(t *testing.T) {
	e, _ := newTestExecutor(t, "/bin/true")

	for i := 0; i < queueSize; i++ {
		if err := e.Enqueue(context.Background(), types.Job{ID: "filler"}); err != nil {
			t.Fatalf("unexpected error filling queue at %d: %v", i, err)
		}
	}
	if err := e.Enqueue(context.Background(), types.Job{ID: "overflow"}); err == nil {
		t.Fatal("expected Enqueue to reject once the queue is full")
	}
}
