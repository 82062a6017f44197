package models

import "time"

// DeliveryStatus is the lifecycle state of one delivery attempt record.
// delivered and failed are terminal: they must never be written again once
// reached (see invariant 4 in the dispatcher's testable properties).
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog is the durable record of a single attempt to execute one
// route for one event. A new row is written on the first attempt and
// updated in place on every retry.
type DeliveryLog struct {
	ID             string          `json:"id" db:"id"`
	RouteID        string          `json:"routeId" db:"route_id"`
	DeliverableID  *string         `json:"deliverableId,omitempty" db:"deliverable_id"`
	EventType      EventType       `json:"eventType" db:"event_type"`
	EventPayload   JSONMap         `json:"eventPayload" db:"event_payload"`
	Status         DeliveryStatus  `json:"status" db:"status"`
	AttemptNumber  int             `json:"attemptNumber" db:"attempt_number"`
	ResponseStatus *int            `json:"responseStatus,omitempty" db:"response_status"`
	ResponseBody   string          `json:"responseBody,omitempty" db:"response_body"`
	ErrorMessage   string          `json:"errorMessage,omitempty" db:"error_message"`
	DispatchedAt   *time.Time      `json:"dispatchedAt,omitempty" db:"dispatched_at"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	DurationMs     *int64          `json:"durationMs,omitempty" db:"duration_ms"`
	NextRetryAt    *time.Time      `json:"nextRetryAt,omitempty" db:"next_retry_at"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// MaxResponseBodyBytes truncates the stored response body so a pathological
// destination cannot bloat the delivery log table.
const MaxResponseBodyBytes = 50 * 1024

// IsTerminal reports whether the row can no longer change.
func (d *DeliveryLog) IsTerminal() bool {
	return d.Status == DeliveryStatusDelivered || d.Status == DeliveryStatusFailed
}
