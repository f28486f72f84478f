// Package agentchannel implements the server side of the Agent Protocol
// (C6): the bidirectional push channel used for node_register, node_ping,
// job_assigned, and job_log messages (spec.md §4.6). Transport is
// gorilla/websocket with a tagged JSON envelope per message, generalizing
// the same Hub/Client idiom the Event Bus uses for GUI subscribers — and
// matching the original system's own socketio (itself websocket-based)
// agent protocol more closely than a generated-code RPC transport would.
//
// Final job results are NOT sent over this channel — spec.md §4.6 requires
// them to arrive via a plain HTTP POST so a result can still be accepted
// after the channel has dropped. See internal/api for that handler.
package agentchannel

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/ansi"
	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/logbuf"
	"github.com/ccxuy/easyrun/server/internal/registry"
	"github.com/ccxuy/easyrun/server/internal/store"
	"github.com/ccxuy/easyrun/shared/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 4 // outbound frames (registered, pong, job_assigned) buffered per connection
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades GET /api/v1/agents/connect into a persistent agent
// channel connection.
type Handler struct {
	reg   *registry.Registry
	store *store.Store
	bus   *eventbus.Bus
	logs  *logbuf.Registry
	log   *zap.Logger
}

// NewHandler creates a channel Handler.
func NewHandler(reg *registry.Registry, st *store.Store, bus *eventbus.Bus, logs *logbuf.Registry, log *zap.Logger) *Handler {
	return &Handler{reg: reg, store: st, bus: bus, logs: logs, log: log.Named("agentchannel")}
}

// ServeWS handles the agent channel's WebSocket upgrade endpoint. It blocks
// for the lifetime of the connection; the caller should invoke it in a
// per-connection goroutine dispatched by the HTTP server.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("agent channel: upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &conn_{
		ws:   conn,
		send: make(chan outFrame, sendBufferSize),
		h:    h,
	}
	c.run(r.Context())
}

// conn_ is one agent's live connection. Named with a trailing underscore to
// avoid colliding with gorilla's websocket.Conn in this file's vocabulary.
type conn_ struct {
	ws     *websocket.Conn
	send   chan outFrame
	h      *Handler
	nodeID string
}

// SendJobAssigned implements registry.Channel. Non-blocking: the call fails
// only when the connection's send buffer (sendBufferSize frames, shared with
// registered and pong frames) is full. It does not check whether the node
// already has a job in flight; a second assignment is queued like the first.
func (c *conn_) SendJobAssigned(job types.Job) error {
	select {
	case c.send <- outFrame{Type: MsgJobAssigned, Job: &job}:
		return nil
	default:
		return errBusy
	}
}

var errBusy = &busyError{}

type busyError struct{}

func (*busyError) Error() string { return "agentchannel: send buffer full" }

func (c *conn_) run(ctx context.Context) {
	defer func() {
		c.ws.Close()
		if c.nodeID != "" {
			c.h.reg.Disconnect(c.nodeID)
		}
	}()

	// First frame must be node_register; everything else waits for identity.
	var first inFrame
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	if err := c.ws.ReadJSON(&first); err != nil {
		c.h.log.Warn("agent channel: failed to read registration frame", zap.Error(err))
		return
	}
	if first.Type != MsgNodeRegister {
		c.h.log.Warn("agent channel: first frame was not node_register", zap.String("type", string(first.Type)))
		return
	}

	node, err := c.h.reg.Register(ctx, first.ID, first.Name, first.Tags, c)
	if err != nil {
		c.h.log.Error("agent channel: registration failed", zap.Error(err))
		return
	}
	c.nodeID = node.ID
	c.send <- outFrame{Type: MsgRegistered, ID: node.ID}

	go c.writePump()
	c.readPump(ctx)
}

func (c *conn_) readPump(ctx context.Context) {
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame inFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Type {
		case MsgNodePing:
			if _, err := c.h.reg.Heartbeat(ctx, c.nodeID); err != nil {
				c.h.log.Error("agent channel: heartbeat failed", zap.String("node_id", c.nodeID), zap.Error(err))
				break
			}
			select {
			case c.send <- outFrame{Type: MsgPong}:
			default:
			}
		case MsgJobLog:
			c.h.handleJobLog(ctx, frame.JobID, frame.Log)
		default:
			c.h.log.Warn("agent channel: unknown frame type", zap.String("type", string(frame.Type)), zap.String("node_id", c.nodeID))
		}
	}
}

func (c *conn_) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleJobLog appends an agent-reported log line to the job's persisted
// logs and fans it out on job.log, exactly mirroring what ReportJobStatus /
// StreamLogs did in the teacher's gRPC server for the equivalent events.
func (h *Handler) handleJobLog(ctx context.Context, jobID, line string) {
	if jobID == "" {
		return
	}
	line = ansi.Strip(line)
	if _, err := h.store.UpdateJob(ctx, jobID, store.JobUpdate{AppendLog: line + "\n"}); err != nil {
		h.log.Error("agent channel: failed to append job log", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	h.logs.Open(jobID).Append(line + "\n")
	h.bus.Publish(types.TopicJobLog, map[string]string{"job_id": jobID, "log": line})
}
