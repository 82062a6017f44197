package tasklifecycle

import (
	"context"

	"github.com/cavendo/fleetctl/pkg/models"
)

// EventEmitter fans a lifecycle event out to the dispatcher's matching
// routes. Implementations do their own outbound I/O, so every operation in
// this package defers emission until after its transaction has committed -
// an event must never be fired for a transition that later rolls back, and
// outbound calls (HTTP, SMTP, S3) must never run inside an open db
// transaction.
type EventEmitter interface {
	Emit(ctx context.Context, eventType models.EventType, projectID *string, payload models.JSONMap)
}

// NopEmitter discards every event. Used where dispatch wiring is not
// configured (tests, or a Config whose Emitter is nil).
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, models.EventType, *string, models.JSONMap) {}

// pendingEvent is recorded during a transaction and flushed to the
// EventEmitter only once that transaction has committed.
type pendingEvent struct {
	eventType models.EventType
	projectID *string
	payload   models.JSONMap
}

func (s *Service) flush(ctx context.Context, events []pendingEvent) {
	for _, e := range events {
		s.emitter.Emit(ctx, e.eventType, e.projectID, e.payload)
	}
}
