package models

import "time"

// TaskStatus is the lifecycle state of a Task. See the state machine in
// tasklifecycle.Machine for the legal transitions between these values.
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusAssigned    TaskStatus = "assigned"
	TaskStatusInProgress  TaskStatus = "in_progress"
	TaskStatusReview      TaskStatus = "review"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// IsTerminal reports whether the status has no outgoing transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// CountsTowardCapacity reports whether a task in this status occupies one
// of its assignee's concurrency slots.
func (s TaskStatus) CountsTowardCapacity() bool {
	switch s {
	case TaskStatusAssigned, TaskStatusInProgress, TaskStatusReview:
		return true
	default:
		return false
	}
}

// IsClaimable reports whether an agent may self-assign a task in this status.
func (s TaskStatus) IsClaimable() bool {
	return s == TaskStatusPending || s == TaskStatusAssigned
}

// Task is a unit of work, optionally assigned to an Agent.
type Task struct {
	ID              string     `json:"id" db:"id"`
	ProjectID       *string    `json:"projectId,omitempty" db:"project_id"`
	AssignedAgentID *string    `json:"assignedAgentId,omitempty" db:"assigned_agent_id"`
	Status          TaskStatus `json:"status" db:"status"`
	Priority        int        `json:"priority" db:"priority"` // 1 (highest) .. 4 (lowest)
	Title           string     `json:"title" db:"title"`
	Description     string     `json:"description,omitempty" db:"description"`
	Tags            StringArray `json:"tags,omitempty" db:"tags"`
	Context         JSONMap    `json:"context,omitempty" db:"context"`
	RoutingRuleID   *string    `json:"routingRuleId,omitempty" db:"routing_rule_id"`
	RoutingDecision *string    `json:"routingDecision,omitempty" db:"routing_decision"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// ProgressEntry is an append-only note attached to a task by its assignee.
type ProgressEntry struct {
	ID        string    `json:"id" db:"id"`
	TaskID    string    `json:"taskId" db:"task_id"`
	Message   string    `json:"message" db:"message"`
	Detail    JSONMap   `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

const (
	Priority1Highest = 1
	Priority4Lowest  = 4
)

// ValidPriority reports whether p is in the task priority range 1..4.
func ValidPriority(p int) bool {
	return p >= Priority1Highest && p <= Priority4Lowest
}
