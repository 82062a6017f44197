package models

import "time"

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusPaused   AgentStatus = "paused"
	AgentStatusDisabled AgentStatus = "disabled"
)

// ExecutionMode describes how an Agent consumes work.
type ExecutionMode string

const (
	ExecutionModeManual  ExecutionMode = "manual"
	ExecutionModeAuto    ExecutionMode = "auto"
	ExecutionModePolling ExecutionMode = "polling"
	ExecutionModeHuman   ExecutionMode = "human"
)

// Agent is a principal that executes tasks and submits deliverables.
type Agent struct {
	ID                 string        `json:"id" db:"id"`
	ProjectID          *string       `json:"projectId,omitempty" db:"project_id"`
	Name               string        `json:"name" db:"name"`
	Status             AgentStatus   `json:"status" db:"status"`
	ExecutionMode      ExecutionMode `json:"executionMode" db:"execution_mode"`
	MaxConcurrentTasks *int          `json:"maxConcurrentTasks,omitempty" db:"max_concurrent_tasks"`
	ActiveTaskCount    int           `json:"activeTaskCount" db:"active_task_count"`
	Capabilities       StringArray   `json:"capabilities,omitempty" db:"capabilities"`
	OwnerUserID        *string       `json:"ownerUserId,omitempty" db:"owner_user_id"`
	CreatedAt          time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time     `json:"updatedAt" db:"updated_at"`
}

// HasCapacity reports whether the agent's in-memory snapshot has a free slot.
// It is advisory only - the authoritative check is the compare-and-increment
// UPDATE performed by router.Reserve.
func (a *Agent) HasCapacity() bool {
	if a.MaxConcurrentTasks == nil {
		return true
	}
	return a.ActiveTaskCount < *a.MaxConcurrentTasks
}

// HasCapability reports whether the agent advertises the given capability tag.
func (a *Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
