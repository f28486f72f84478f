// Package types defines domain types shared by the server and agent binaries.
package types

import "time"

// ─── Node ────────────────────────────────────────────────────────────────────

// NodeStatus represents the current connection state of a node.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// Node is a remote worker participating in the fleet.
type Node struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Tags          []string   `json:"tags"`
	Status        NodeStatus `json:"status"`
	LastSeen      time.Time  `json:"last_seen"`
	CurrentJobID  *string    `json:"current_job_id,omitempty"`
	ChannelHandle any        `json:"-"`
}

// ─── Job ─────────────────────────────────────────────────────────────────────

// JobStatus represents the current execution state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusError     JobStatus = "error"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a job status no longer transitions further.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusError, JobStatusTimeout, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a single task invocation, local or remote.
type Job struct {
	ID         string            `json:"id"`
	Task       string            `json:"task"`
	NodeID     *string           `json:"node_id,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
	Status     JobStatus         `json:"status"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	Logs       string            `json:"logs,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// ─── Plan / PlanRun / PlanRunStep ────────────────────────────────────────────

// PlanRunStatus represents the current execution state of a plan run.
type PlanRunStatus string

const (
	PlanRunStatusPending PlanRunStatus = "pending"
	PlanRunStatusRunning PlanRunStatus = "running"
	PlanRunStatusSuccess PlanRunStatus = "success"
	PlanRunStatusFailed  PlanRunStatus = "failed"
	PlanRunStatusError   PlanRunStatus = "error"
)

// PlanTrigger indicates how a plan run was initiated.
type PlanTrigger string

const (
	PlanTriggerManual  PlanTrigger = "manual"
	PlanTriggerWebhook PlanTrigger = "webhook"
)

// PlanRun is one execution of a Plan.
type PlanRun struct {
	ID             string                 `json:"id"`
	PlanName       string                 `json:"plan_name"`
	Status         PlanRunStatus          `json:"status"`
	Params         map[string]string      `json:"params,omitempty"`
	TriggerType    PlanTrigger            `json:"trigger_type"`
	TotalSteps     int                    `json:"total_steps"`
	CompletedSteps int                    `json:"completed_steps"`
	Duration       *float64               `json:"duration,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
	Steps          []PlanRunStep          `json:"steps,omitempty"`
}

// PlanRunStepStatus represents the current execution state of one plan step.
type PlanRunStepStatus string

const (
	StepStatusPending PlanRunStepStatus = "pending"
	StepStatusRunning PlanRunStepStatus = "running"
	StepStatusSuccess PlanRunStepStatus = "success"
	StepStatusFailed  PlanRunStepStatus = "failed"
	StepStatusSkipped PlanRunStepStatus = "skipped"
)

// PlanRunStep is one node in a plan's DAG, bound to a single task and
// optional per-step variables. Identity is the (RunID, StepName) pair.
type PlanRunStep struct {
	RunID      string            `json:"run_id"`
	StepName   string            `json:"step_name"`
	TaskName   string            `json:"task_name"`
	Status     PlanRunStepStatus `json:"status"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	Logs       string            `json:"logs,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Duration   *float64          `json:"duration,omitempty"`
}

// PlanStepDef is the static definition of a step within a Plan document, as
// parsed from the external YAML plan definition (parsing itself is out of
// scope — this is the shape the core consumes).
type PlanStepDef struct {
	Name      string            `json:"name"`
	Task      string            `json:"task"`
	Vars      map[string]string `json:"vars,omitempty"`
	Needs     []string          `json:"needs,omitempty"`
	Artifacts any               `json:"artifacts,omitempty"`
	Inputs    any               `json:"inputs,omitempty"`
}

// PlanDef is the static definition of a plan: an ordered set of named steps
// forming a DAG via each step's Needs list.
type PlanDef struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
	Steps  []PlanStepDef      `json:"steps"`
}

// ─── CliExecution ────────────────────────────────────────────────────────────

// CliExecution is an independent task invocation reported post-hoc from a
// command-line tool. Informational history only, append-only.
type CliExecution struct {
	ID        int64             `json:"id"`
	Task      string            `json:"task"`
	ExitCode  int               `json:"exit_code"`
	Duration  float64           `json:"duration"`
	Host      string            `json:"host"`
	Workspace string            `json:"workspace"`
	Params    map[string]string `json:"params,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ─── Chart ───────────────────────────────────────────────────────────────────

// Chart is presentation-only dashboard metadata. It lives in the same store
// as the execution entities but is never consulted by the core.
type Chart struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Formula   string    `json:"formula"`
	Config    string    `json:"config,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ─── Event Bus ───────────────────────────────────────────────────────────────

// EventTopic identifies one of the Event Bus's fixed topics.
type EventTopic string

const (
	TopicJobUpdate      EventTopic = "job.update"
	TopicJobLog         EventTopic = "job.log"
	TopicPlanUpdate     EventTopic = "plan.update"
	TopicPlanStepUpdate EventTopic = "plan.step.update"
	TopicNodeUpdate     EventTopic = "node.update"
)

// Event is the envelope published on the Event Bus.
type Event struct {
	Topic   EventTopic `json:"topic"`
	Payload any        `json:"payload"`
}

// ─── Errors ──────────────────────────────────────────────────────────────────

// ErrorKind classifies a core-level failure for the HTTP layer's status
// mapping. See the error handling design for the full taxonomy.
type ErrorKind string

const (
	ErrKindInputInvalid ErrorKind = "InputInvalid"
	ErrKindNotFound     ErrorKind = "NotFound"
	ErrKindConflict     ErrorKind = "Conflict"
	ErrKindUnauthorized ErrorKind = "Unauthorized"
	ErrKindNodeUnknown  ErrorKind = "NodeUnknown"
	ErrKindStoreError   ErrorKind = "StoreError"
)

// ─── Pagination ──────────────────────────────────────────────────────────────

// ListOptions holds pagination/filter parameters for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}
