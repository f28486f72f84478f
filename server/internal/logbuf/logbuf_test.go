package logbuf

import (
	"testing"

	"github.com/ccxuy/easyrun/shared/types"
)

func TestBuffer_SinceReturnsOnlyNewLines(t *testing.T) {
	b := &Buffer{}
	b.Append("line1\n")
	b.Append("line2\n")

	lines, next, done, _ := b.Since(0)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if next != 2 {
		t.Fatalf("expected next cursor 2, got %d", next)
	}
	if done {
		t.Fatal("expected done=false before Finalize")
	}

	b.Append("line3\n")
	lines, next, _, _ = b.Since(next)
	if len(lines) != 1 || lines[0] != "line3\n" {
		t.Fatalf("expected only line3 from cursor 2, got %v", lines)
	}
	if next != 3 {
		t.Fatalf("expected next cursor 3, got %d", next)
	}
}

func TestBuffer_FinalizeMarksDoneWithStatus(t *testing.T) {
	b := &Buffer{}
	b.Append("running task\n")
	b.Finalize(types.JobStatusSuccess)

	_, _, done, status := b.Since(0)
	if !done {
		t.Fatal("expected done=true after Finalize")
	}
	if status != types.JobStatusSuccess {
		t.Errorf("status = %v, want %v", status, types.JobStatusSuccess)
	}
}

func TestRegistry_OpenIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := r.Open("job-1")
	b := r.Open("job-1")
	if a != b {
		t.Fatal("expected Open to return the same Buffer for the same job id")
	}

	if _, ok := r.Get("job-2"); ok {
		t.Fatal("expected Get to report false for an unopened job id")
	}

	r.Delete("job-1")
	if _, ok := r.Get("job-1"); ok {
		t.Fatal("expected Get to report false after Delete")
	}
}
