package models

import "time"

// EventType enumerates the closed set of lifecycle events the dispatcher can
// fan out. Keep this list the single source of truth: route and webhook
// subscription validators both consume it, and drift between them is a bug.
type EventType string

const (
	EventTaskCreated         EventType = "task.created"
	EventTaskAssigned        EventType = "task.assigned"
	EventTaskStatusChanged   EventType = "task.status_changed"
	EventTaskCompleted       EventType = "task.completed"
	EventTaskCancelled       EventType = "task.cancelled"
	EventTaskExecutionFailed EventType = "task.execution_failed"
	EventDeliverableSubmitted EventType = "deliverable.submitted"
	EventDeliverableApproved  EventType = "deliverable.approved"
	EventDeliverableRevisionRequested EventType = "deliverable.revision_requested"
	EventDeliverableRejected  EventType = "deliverable.rejected"
	EventAgentRegistered     EventType = "agent.registered"
	EventProjectCreated      EventType = "project.created"
)

// AllEventTypes is the closed catalog. Route.TriggerEvent and any inbound
// webhook subscription request must name one of these.
var AllEventTypes = []EventType{
	EventTaskCreated, EventTaskAssigned, EventTaskStatusChanged, EventTaskCompleted,
	EventTaskCancelled, EventTaskExecutionFailed, EventDeliverableSubmitted,
	EventDeliverableApproved, EventDeliverableRevisionRequested, EventDeliverableRejected,
	EventAgentRegistered, EventProjectCreated,
}

// IsValidEventType reports whether e is a member of the closed catalog.
func IsValidEventType(e EventType) bool {
	for _, v := range AllEventTypes {
		if v == e {
			return true
		}
	}
	return false
}

// DestinationType is the kind of external system a Route delivers to.
type DestinationType string

const (
	DestinationWebhook DestinationType = "webhook"
	DestinationEmail   DestinationType = "email"
	DestinationStorage DestinationType = "storage"
	DestinationChat    DestinationType = "slack"
)

// RetryPolicy configures the dispatcher's backoff schedule for a Route.
type RetryPolicy struct {
	MaxRetries      int    `json:"maxRetries"`
	BackoffType     string `json:"backoffType"` // always "exponential" today
	InitialDelayMs  int    `json:"initialDelayMs"`
}

// Route is a persistent subscription pairing a lifecycle event with an
// external destination. A nil ProjectID makes the route global: it fires
// in addition to any project-scoped route matching the same event.
type Route struct {
	ID                string          `json:"id" db:"id"`
	ProjectID         *string         `json:"projectId,omitempty" db:"project_id"`
	TriggerEvent      EventType       `json:"triggerEvent" db:"trigger_event"`
	TriggerConditions JSONMap         `json:"triggerConditions,omitempty" db:"trigger_conditions"`
	DestinationType   DestinationType `json:"destinationType" db:"destination_type"`
	DestinationConfig JSONMap         `json:"destinationConfig" db:"destination_config"`
	FieldMapping      JSONMap         `json:"fieldMapping,omitempty" db:"field_mapping"`
	RetryPolicyJSON   JSONMap         `json:"retryPolicy" db:"retry_policy"`
	Enabled           bool            `json:"enabled" db:"enabled"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// Retry decodes the route's JSON retry policy, applying defaults mirroring
// the ones the dispatcher ships with.
func (r *Route) Retry() RetryPolicy {
	p := RetryPolicy{MaxRetries: 3, BackoffType: "exponential", InitialDelayMs: 1000}
	if r.RetryPolicyJSON == nil {
		return p
	}
	if v, ok := r.RetryPolicyJSON["max_retries"].(float64); ok {
		p.MaxRetries = int(v)
	}
	if v, ok := r.RetryPolicyJSON["backoff_type"].(string); ok && v != "" {
		p.BackoffType = v
	}
	if v, ok := r.RetryPolicyJSON["initial_delay_ms"].(float64); ok {
		p.InitialDelayMs = int(v)
	}
	return p
}
