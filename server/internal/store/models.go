package store

import (
	"time"

	"gorm.io/gorm"
)

// NodeModel is the GORM row for a registered fleet node.
type NodeModel struct {
	ID            string `gorm:"primaryKey;size:16"`
	Name          string
	Tags          string // JSON-encoded; Node.Tags is []string at the domain level
	Status        string `gorm:"index"`
	LastSeen      time.Time
	CurrentJobID  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (NodeModel) TableName() string { return "nodes" }

// BeforeCreate assigns an 8-hex id if the caller did not supply one, matching
// the Node Registry's register() contract (spec.md §4.3).
func (m *NodeModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// JobModel is the GORM row for a task invocation, local or remote.
type JobModel struct {
	ID         string `gorm:"primaryKey;size:16"`
	Task       string
	NodeID     *string `gorm:"index"`
	Vars       string  // JSON-encoded map[string]string
	Status     string  `gorm:"index"`
	ExitCode   *int
	Logs       string
	CreatedAt  time.Time `gorm:"index"`
	StartedAt  *time.Time
	FinishedAt *time.Time
}

func (JobModel) TableName() string { return "jobs" }

func (m *JobModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// PlanRunModel is the GORM row for one execution of a plan.
type PlanRunModel struct {
	ID             string `gorm:"primaryKey;size:16"`
	PlanName       string `gorm:"index"`
	Status         string `gorm:"index"`
	Params         string // JSON-encoded map[string]string
	TriggerType    string
	TotalSteps     int
	CompletedSteps int
	Duration       *float64
	CreatedAt      time.Time `gorm:"index"`
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

func (PlanRunModel) TableName() string { return "plan_runs" }

func (m *PlanRunModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// PlanRunStepModel is the GORM row for a single step of a plan run. Identity
// is the composite (RunID, StepName) — exposed via a non-autoincrement
// primary key pair.
type PlanRunStepModel struct {
	RunID     string `gorm:"primaryKey;size:16"`
	StepName  string `gorm:"primaryKey;size:128"`
	TaskName  string
	Status    string `gorm:"index"`
	ExitCode  *int
	Logs      string
	CreatedAt time.Time `gorm:"index"` // insertion order, for the round-trip testable property
	StartedAt *time.Time
	FinishedAt *time.Time
	Duration   *float64
}

func (PlanRunStepModel) TableName() string { return "plan_run_steps" }

// CliExecutionModel is the GORM row for a post-hoc reported CLI execution.
// Append-only, monotonic integer id.
type CliExecutionModel struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	Task      string
	ExitCode  int
	Duration  float64
	Host      string
	Workspace string
	Params    string // JSON-encoded map[string]string
	Timestamp time.Time `gorm:"index"`
}

func (CliExecutionModel) TableName() string { return "executions" }

// ChartModel is the GORM row for presentation-only dashboard metadata.
type ChartModel struct {
	ID        string `gorm:"primaryKey;size:16"`
	Name      string
	Type      string
	Formula   string
	Config    string
	CreatedAt time.Time
}

func (ChartModel) TableName() string { return "charts" }

func (m *ChartModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}
