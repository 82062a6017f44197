package dispatch

import (
	"context"
	"time"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// DeliveryLogStore persists the durable attempt record spec §4.6 requires:
// a row per (route, event) pair, written on first attempt and updated in
// place on every retry.
type DeliveryLogStore interface {
	Insert(ctx context.Context, tx db.Handle, log *models.DeliveryLog) error
	Update(ctx context.Context, tx db.Handle, log *models.DeliveryLog) error
	DueForRetry(ctx context.Context, tx db.Handle, now time.Time, limit int) ([]*models.DeliveryLog, error)
}

type SQLDeliveryLogStore struct{}

func (SQLDeliveryLogStore) Insert(ctx context.Context, tx db.Handle, log *models.DeliveryLog) error {
	_, err := tx.Insert(ctx,
		`INSERT INTO delivery_logs (id, route_id, deliverable_id, event_type, event_payload, status, attempt_number, response_status, response_body, error_message, dispatched_at, completed_at, duration_ms, next_retry_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.RouteID, log.DeliverableID, string(log.EventType), log.EventPayload, string(log.Status),
		log.AttemptNumber, log.ResponseStatus, log.ResponseBody, log.ErrorMessage, log.DispatchedAt,
		log.CompletedAt, log.DurationMs, log.NextRetryAt, log.CreatedAt,
	)
	return err
}

func (SQLDeliveryLogStore) Update(ctx context.Context, tx db.Handle, log *models.DeliveryLog) error {
	_, err := tx.Exec(ctx,
		`UPDATE delivery_logs
		 SET status = ?, attempt_number = ?, response_status = ?, response_body = ?, error_message = ?,
		     dispatched_at = ?, completed_at = ?, duration_ms = ?, next_retry_at = ?
		 WHERE id = ?`,
		string(log.Status), log.AttemptNumber, log.ResponseStatus, log.ResponseBody, log.ErrorMessage,
		log.DispatchedAt, log.CompletedAt, log.DurationMs, log.NextRetryAt, log.ID,
	)
	return err
}

func (SQLDeliveryLogStore) DueForRetry(ctx context.Context, tx db.Handle, now time.Time, limit int) ([]*models.DeliveryLog, error) {
	var logs []*models.DeliveryLog
	err := tx.Many(ctx, &logs,
		`SELECT id, route_id, deliverable_id, event_type, event_payload, status, attempt_number, response_status, response_body, error_message, dispatched_at, completed_at, duration_ms, next_retry_at, created_at
		 FROM delivery_logs
		 WHERE status = 'retrying' AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC
		 LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	return logs, nil
}
