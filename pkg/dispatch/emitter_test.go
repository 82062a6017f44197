package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavendo/fleetctl/pkg/dispatch/adapters"
	"github.com/cavendo/fleetctl/pkg/models"
)

func TestEmitter_DispatchesMatchingRoute(t *testing.T) {
	handle := newDispatchTestDB(t)
	route := &models.Route{ID: "r1", TriggerEvent: models.EventDeliverableApproved, DestinationType: models.DestinationWebhook, Enabled: true, RetryPolicyJSON: models.JSONMap{}}
	insertRoute(t, handle, route)

	dest := &fakeDestination{results: []adapters.Result{{ResponseStatus: 200}}, errs: []error{nil}}
	d := NewDispatcher(Config{Handle: handle, Destinations: map[models.DestinationType]adapters.Destination{models.DestinationWebhook: dest}})
	emitter := NewEmitter(d, nil)

	emitter.Emit(context.Background(), models.EventDeliverableApproved, nil, models.JSONMap{"id": "del-1", "version": 2})

	var deliverableID string
	require.NoError(t, handle.One(context.Background(), &deliverableID, "SELECT deliverable_id FROM delivery_logs WHERE route_id = ?", "r1"))
	assert.Equal(t, "del-1", deliverableID)
	assert.Equal(t, int32(1), dest.calls.Load())
}

func TestEmitter_IgnoresNonDeliverableEventForIDExtraction(t *testing.T) {
	assert.Nil(t, deliverableIDFrom(models.EventTaskCompleted, models.JSONMap{"id": "task-1"}))
}
