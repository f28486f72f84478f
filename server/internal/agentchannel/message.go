package agentchannel

import "github.com/ccxuy/easyrun/shared/types"

// MsgType identifies the kind of frame exchanged over the agent channel
// (spec.md §4.6). The wire shape is a single tagged JSON envelope in both
// directions, mirroring the message set the original system exchanges over
// its socketio connection.
type MsgType string

const (
	// agent -> server
	MsgNodeRegister MsgType = "node_register"
	MsgNodePing     MsgType = "node_ping"
	MsgJobLog       MsgType = "job_log"

	// server -> agent
	MsgRegistered  MsgType = "registered"
	MsgJobAssigned MsgType = "job_assigned"
	MsgPong        MsgType = "pong"
)

// inFrame is the envelope for frames received from an agent.
type inFrame struct {
	Type MsgType  `json:"type"`
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`

	JobID string `json:"job_id,omitempty"`
	Log   string `json:"log,omitempty"`
}

// outFrame is the envelope for frames sent to an agent.
type outFrame struct {
	Type MsgType    `json:"type"`
	ID   string     `json:"id,omitempty"`
	Job  *types.Job `json:"job,omitempty"`
}
