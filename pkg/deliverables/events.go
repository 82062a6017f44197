package deliverables

import (
	"context"

	"github.com/cavendo/fleetctl/pkg/models"
)

// pendingEvent mirrors tasklifecycle's pattern: recorded during a
// transaction, only flushed to the EventEmitter once that transaction has
// committed.
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
