// Package activity writes the append-only audit trail every entity-level
// transition in tasklifecycle, deliverables, and dispatch contributes to.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// Recorder appends ActivityLog rows. It takes no dependency beyond a
// db.Handle because writes here are always nested inside the caller's own
// transaction — an activity_log row for a task transition must commit or
// roll back atomically with the transition itself.
type Recorder struct{}

// NewRecorder builds a Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Record appends one ActivityLog row via tx. detail may be nil.
func (r *Recorder) Record(ctx context.Context, tx db.Handle, entityType models.EntityType, entityID, eventType, actorName string, detail models.JSONMap) error {
	_, err := tx.Insert(ctx,
		`INSERT INTO activity_log (id, entity_type, entity_id, event_type, actor_name, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(entityType), entityID, eventType, actorName, detail, time.Now().UTC(),
	)
	return err
}
