// Package logbuf holds the runtime log buffers for in-flight jobs. Logs for
// live jobs accumulate here; the terminal snapshot is what ends up
// persisted in the Store at job finalization (spec.md §3's ownership note).
// The SSE log-tailing endpoint (C8) polls a buffer every 500ms until the
// job reaches a terminal status.
package logbuf

import (
	"sync"

	"github.com/ccxuy/easyrun/shared/types"
)

// Buffer accumulates log lines for one job and tracks whether the job has
// reached a terminal status.
type Buffer struct {
	mu     sync.Mutex
	lines  []string
	status types.JobStatus
	done   bool
}

// Append adds a line to the buffer. It does nothing once the buffer has
// been finalized.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	if !b.done {
		b.lines = append(b.lines, line)
	}
	b.mu.Unlock()
}

// Finalize marks the buffer done with the job's terminal status. Further
// Append calls are ignored.
func (b *Buffer) Finalize(status types.JobStatus) {
	b.mu.Lock()
	b.status = status
	b.done = true
	b.mu.Unlock()
}

// Since returns every line appended at or after index from, plus the
// current done/status state and the new cursor to pass as from on the next
// call.
func (b *Buffer) Since(from int) (lines []string, next int, done bool, status types.JobStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from < len(b.lines) {
		lines = append(lines, b.lines[from:]...)
	}
	return lines, len(b.lines), b.done, b.status
}

// Registry holds one Buffer per job it has opened. A buffer stays in the
// registry after its job finishes until Delete is called; the SSE tail
// handler does not call Delete.
type Registry struct {
	mu  sync.Mutex
	buf map[string]*Buffer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{buf: make(map[string]*Buffer)}
}

// Open creates (or returns the existing) Buffer for jobID.
func (r *Registry) Open(jobID string) *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buf[jobID]
	if !ok {
		b = &Buffer{}
		r.buf[jobID] = b
	}
	return b
}

// Get returns the Buffer for jobID if one exists.
func (r *Registry) Get(jobID string) (*Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buf[jobID]
	return b, ok
}

// Delete removes a job's buffer, freeing its memory once no more
// subscribers need it.
func (r *Registry) Delete(jobID string) {
	r.mu.Lock()
	delete(r.buf, jobID)
	r.mu.Unlock()
}
