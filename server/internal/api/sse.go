package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/logbuf"
)

const sseTailInterval = 500 * time.Millisecond

// LogHandler serves live job log tailing over Server-Sent Events.
type LogHandler struct {
	logs *logbuf.Registry
	log  *zap.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(logs *logbuf.Registry, log *zap.Logger) *LogHandler {
	return &LogHandler{logs: logs, log: log.Named("log_handler")}
}

// Tail handles GET /api/v1/jobs/{id}/logs, streaming new log lines every
// 500ms until the job reaches a terminal status, then emitting a final
// {"status":..., "done":true} frame and closing the stream.
func (h *LogHandler) Tail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		ErrInternal(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseTailInterval)
	defer ticker.Stop()

	from := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			buf, ok := h.logs.Get(id)
			if !ok {
				fmt.Fprintf(w, "event: done\ndata: {\"status\":\"unknown\",\"done\":true}\n\n")
				flusher.Flush()
				return
			}
			lines, next, done, status := buf.Since(from)
			from = next
			for _, line := range lines {
				fmt.Fprintf(w, "data: %s\n\n", sseEscape(line))
			}
			if len(lines) > 0 {
				flusher.Flush()
			}
			if done {
				fmt.Fprintf(w, "event: done\ndata: {\"status\":\"%s\",\"done\":true}\n\n", status)
				flusher.Flush()
				return
			}
		}
	}
}

// sseEscape collapses embedded newlines so one log line survives as one SSE
// data frame.
func sseEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
