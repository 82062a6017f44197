package dispatch

import (
	"context"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/pkg/models"
)

// Emitter adapts a Dispatcher to the EventEmitter shape that
// pkg/tasklifecycle and pkg/deliverables each declare independently
// (identical method sets, deliberately not a shared package - see
// DESIGN.md). Emit is fire-and-forget from the caller's perspective: a
// dispatch failure is logged, never propagated, since by the time Emit
// runs the triggering transaction has already committed and there is
// nothing left to roll back.
type Emitter struct {
	dispatcher *Dispatcher
	logger     logging.Logger
}

func NewEmitter(d *Dispatcher, logger logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Emitter{dispatcher: d, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, eventType models.EventType, projectID *string, payload models.JSONMap) {
	if err := e.dispatcher.Dispatch(ctx, eventType, projectID, deliverableIDFrom(eventType, payload), payload); err != nil {
		e.logger.Error("event dispatch failed", map[string]interface{}{
			"event_type": string(eventType),
			"error":      err.Error(),
		})
	}
}

// deliverableIDFrom recovers delivery_logs.deliverable_id for the four
// deliverable.* events from the payload tasklifecycle/deliverables built
// with deliverablePayload, whose "id" field is the deliverable's own id.
func deliverableIDFrom(eventType models.EventType, payload models.JSONMap) *string {
	switch eventType {
	case models.EventDeliverableSubmitted, models.EventDeliverableApproved,
		models.EventDeliverableRevisionRequested, models.EventDeliverableRejected:
	default:
		return nil
	}
	id, ok := payload["id"].(string)
	if !ok || id == "" {
		return nil
	}
	return &id
}
