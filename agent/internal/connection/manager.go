// Package connection manages the persistent WebSocket connection between
// the agent and the server's agent channel (spec.md §4.6). It handles:
//   - Initial registration (presenting id/name/tags, receiving "registered")
//   - Heartbeat loop (periodic node_ping frames)
//   - Inbound job_assigned frames, forwarded to the executor
//   - job_log frames streamed back to the server as a job runs
//   - Automatic reconnection with exponential backoff + jitter on any failure
//
// Final job results are NOT sent over this channel. Per spec.md §4.6 they
// go out as a plain HTTP POST to /api/v1/jobs/{id}/result, so a result can
// still be delivered after the channel has dropped.
//
// The Manager implements executor.LogSink and executor.StatusReporter so
// the executor can call SendLog and ReportResult without knowing about the
// channel transport.
//
// State persistence: the first registration mints a node ID (a random UUID),
// written to <state-dir>/agent-state.json and reused on every subsequent
// connection so the server recognizes this as the same node rather than a
// new one.
package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/agent/internal/executor"
	"github.com/ccxuy/easyrun/agent/internal/hostinfo"
	"github.com/ccxuy/easyrun/shared/types"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	backoffFactor  = 2.0
	// jitterFraction adds up to ±20% random jitter to each backoff interval
	// to prevent thundering herd when many agents reconnect simultaneously.
	jitterFraction = 0.2

	// pingInterval is how often the agent sends node_ping frames. The
	// server's liveness sweeper marks a node offline after registry.LivenessWindow
	// (90s) without one.
	pingInterval = 30 * time.Second

	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

type msgType string

const (
	// agent -> server
	msgNodeRegister msgType = "node_register"
	msgNodePing     msgType = "node_ping"
	msgJobLog       msgType = "job_log"

	// server -> agent
	msgRegistered  msgType = "registered"
	msgJobAssigned msgType = "job_assigned"
	msgPong        msgType = "pong"
)

// outFrame is the envelope for frames sent to the server.
type outFrame struct {
	Type msgType  `json:"type"`
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`

	JobID string `json:"job_id,omitempty"`
	Log   string `json:"log,omitempty"`
}

// inFrame is the envelope for frames received from the server.
type inFrame struct {
	Type msgType    `json:"type"`
	ID   string     `json:"id,omitempty"`
	Job  *types.Job `json:"job,omitempty"`
}

// agentState is persisted to disk after the first successful registration
// so the agent presents a stable node ID on every reconnect.
type agentState struct {
	NodeID string `json:"node_id"`
}

func stateFilePath(stateDir string) string {
	return filepath.Join(stateDir, "agent-state.json")
}

// loadState reads the persisted agent state from disk. Returns an empty
// agentState (NodeID == "") if the file does not exist yet.
func loadState(stateDir string) (agentState, error) {
	data, err := os.ReadFile(stateFilePath(stateDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return agentState{}, nil
		}
		return agentState{}, fmt.Errorf("connection: failed to read state file: %w", err)
	}
	var s agentState
	if err := json.Unmarshal(data, &s); err != nil {
		return agentState{}, fmt.Errorf("connection: corrupted state file: %w", err)
	}
	return s, nil
}

// saveState writes the agent state to disk atomically via temp file + rename.
func saveState(stateDir string, s agentState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("connection: failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return fmt.Errorf("connection: failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(stateDir, "agent-state.*.tmp")
	if err != nil {
		return fmt.Errorf("connection: failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("connection: failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("connection: failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, stateFilePath(stateDir)); err != nil {
		return fmt.Errorf("connection: failed to rename state file: %w", err)
	}
	ok = true
	return nil
}

// Config holds all parameters needed to connect to the server.
type Config struct {
	// ServerAddr is the server's base HTTP address, e.g. "http://localhost:8080".
	// The agent channel WebSocket URL and the job-result HTTP endpoint are
	// both derived from it.
	ServerAddr string
	// AuthToken is the shared bearer token required on the job-result HTTP
	// endpoint, matching the server's --auth-token (spec.md §6). The agent
	// channel itself carries no bearer auth — node identity is established
	// by node_register. Empty disables the Authorization header.
	AuthToken string
	// StateDir is the directory where agent-state.json is persisted.
	StateDir string
	// Version is the agent binary version, currently unused on the wire but
	// kept for parity with the server's own version logging.
	Version string
}

// Manager maintains the persistent agent channel connection to the server.
// It implements executor.LogSink and executor.StatusReporter so the
// executor can forward log lines and results without knowing about the
// channel transport.
type Manager struct {
	cfg    Config
	exec   *executor.Executor
	http   *http.Client
	logger *zap.Logger

	// mu protects send and nodeID — both are replaced on every reconnect.
	mu     sync.RWMutex
	send   chan outFrame
	nodeID string
}

// New creates a Manager. Call Run to start the connection loop.
func New(cfg Config, exec *executor.Executor, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		exec:   exec,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("connection"),
	}
}

// Run starts the connection loop: connects, registers, and runs the ping
// and read loops. On any error it reconnects with exponential backoff.
// Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	backoff := backoffInitial

	for {
		if ctx.Err() != nil {
			m.logger.Info("connection manager stopped")
			return
		}

		m.logger.Info("connecting to server", zap.String("addr", m.cfg.ServerAddr))

		if err := m.connect(ctx); err != nil {
			m.logger.Warn("connection failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		// Successful session — reset backoff for the next reconnect.
		backoff = backoffInitial
	}
}

// connect establishes one WebSocket session: dial → register → run loops.
// Returns when the session ends (error or context cancellation).
func (m *Manager) connect(ctx context.Context) error {
	wsURL, err := channelURL(m.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("bad server address: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	state, err := loadState(m.cfg.StateDir)
	if err != nil {
		m.logger.Warn("failed to load agent state, minting a new node id", zap.Error(err))
	}
	if state.NodeID == "" {
		state.NodeID = uuid.NewString()
		if err := saveState(m.cfg.StateDir, state); err != nil {
			m.logger.Warn("failed to persist agent state", zap.Error(err))
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	tags := hostinfo.Tags(ctx)

	if err := conn.WriteJSON(outFrame{Type: msgNodeRegister, ID: state.NodeID, Name: hostname, Tags: tags}); err != nil {
		return fmt.Errorf("registration write failed: %w", err)
	}

	var first inFrame
	if err := conn.ReadJSON(&first); err != nil {
		return fmt.Errorf("registration response read failed: %w", err)
	}
	if first.Type != msgRegistered {
		return fmt.Errorf("unexpected first frame from server: %s", first.Type)
	}

	m.mu.Lock()
	m.nodeID = state.NodeID
	m.send = make(chan outFrame, sendBufferSize)
	m.mu.Unlock()

	m.logger.Info("registered with server", zap.String("node_id", state.NodeID), zap.String("name", hostname))

	errCh := make(chan error, 2)
	go func() { errCh <- m.writePump(conn) }()
	go func() { errCh <- m.readPump(ctx, conn) }()

	err = <-errCh
	m.mu.Lock()
	close(m.send)
	m.send = nil
	m.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// writePump drains the send channel onto the WebSocket and sends a
// node_ping frame every pingInterval.
func (m *Manager) writePump(conn *websocket.Conn) error {
	m.mu.RLock()
	send := m.send
	nodeID := m.nodeID
	m.mu.RUnlock()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-send:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(outFrame{Type: msgNodePing, ID: nodeID}); err != nil {
				return fmt.Errorf("ping write failed: %w", err)
			}
		}
	}
}

// readPump processes inbound frames (job_assigned, pong) until the
// connection drops or ctx is cancelled.
func (m *Manager) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame inFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		switch frame.Type {
		case msgJobAssigned:
			if frame.Job == nil {
				m.logger.Warn("job_assigned frame missing job")
				continue
			}
			job := executor.JobAssignment{JobID: frame.Job.ID, Task: frame.Job.Task, Vars: frame.Job.Vars}
			if err := m.exec.Enqueue(job); err != nil {
				m.logger.Error("failed to enqueue job", zap.String("job_id", job.JobID), zap.Error(err))
			}
		case msgPong:
			// no-op, keeps the read loop honest about liveness
		default:
			m.logger.Warn("unknown frame type from server", zap.String("type", string(frame.Type)))
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// SendLog implements executor.LogSink. Non-blocking: if the send buffer is
// full or no session is open the line is dropped with a warning.
func (m *Manager) SendLog(jobID, line string) {
	m.mu.RLock()
	send := m.send
	m.mu.RUnlock()

	if send == nil {
		m.logger.Warn("SendLog: no active session, dropping line", zap.String("job_id", jobID))
		return
	}
	select {
	case send <- outFrame{Type: msgJobLog, JobID: jobID, Log: line}:
	default:
		m.logger.Warn("SendLog: send buffer full, dropping line", zap.String("job_id", jobID))
	}
}

// jobResultRequest mirrors the server's jobResultRequest (internal/api/jobs.go).
type jobResultRequest struct {
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Logs     string `json:"logs,omitempty"`
}

// ReportResult implements executor.StatusReporter. It POSTs the job's
// terminal outcome to /api/v1/jobs/{id}/result over plain HTTP rather than
// the channel, so the result is still delivered if the channel has dropped
// (spec.md §4.6).
func (m *Manager) ReportResult(jobID string, result executor.Result) {
	body, err := json.Marshal(jobResultRequest{Status: result.Status, ExitCode: result.ExitCode, Logs: result.Logs})
	if err != nil {
		m.logger.Error("ReportResult: failed to marshal request", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	endpoint := strings.TrimRight(m.cfg.ServerAddr, "/") + "/api/v1/jobs/" + jobID + "/result"
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("ReportResult: failed to build request", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.AuthToken)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Warn("ReportResult: request failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		m.logger.Warn("ReportResult: server rejected result", zap.String("job_id", jobID), zap.Int("status_code", resp.StatusCode))
	}
}

// channelURL derives the agent channel's WebSocket URL from the server's
// base HTTP address.
func channelURL(serverAddr string) (string, error) {
	u, err := url.Parse(serverAddr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/agents/connect"
	return u.String(), nil
}

// nextBackoff returns the next backoff duration, capped at backoffMax.
func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// jitter adds a random ±jitterFraction perturbation to d to avoid
// thundering herd on reconnect.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
