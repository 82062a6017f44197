package dispatch

import (
	"context"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// RouteStore resolves the routes a fired event must be dispatched through.
type RouteStore interface {
	MatchingRoutes(ctx context.Context, tx db.Handle, eventType models.EventType, projectID *string) ([]*models.Route, error)
	Get(ctx context.Context, tx db.Handle, id string) (*models.Route, error)
}

// SQLRouteStore implements RouteStore against the routes table. Spec §4.6
// step 1: gather enabled routes whose trigger_event matches and whose
// project_id equals the event's project or is null (global).
type SQLRouteStore struct{}

func (SQLRouteStore) MatchingRoutes(ctx context.Context, tx db.Handle, eventType models.EventType, projectID *string) ([]*models.Route, error) {
	var routes []*models.Route
	err := tx.Many(ctx, &routes,
		`SELECT id, project_id, trigger_event, trigger_conditions, destination_type, destination_config, field_mapping, retry_policy, enabled, created_at, updated_at
		 FROM routes
		 WHERE enabled = true AND trigger_event = ? AND (project_id IS NULL OR project_id = ?)`,
		string(eventType), projectID,
	)
	if err != nil {
		return nil, err
	}
	return routes, nil
}

// Get loads a single route by id, used by the sweeper to re-resolve the
// destination for a retrying delivery_logs row.
func (SQLRouteStore) Get(ctx context.Context, tx db.Handle, id string) (*models.Route, error) {
	var route models.Route
	err := tx.One(ctx, &route,
		`SELECT id, project_id, trigger_event, trigger_conditions, destination_type, destination_config, field_mapping, retry_policy, enabled, created_at, updated_at
		 FROM routes WHERE id = ?`, id)
	if err == db.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}
