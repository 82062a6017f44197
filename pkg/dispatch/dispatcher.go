// Package dispatch fans lifecycle events out to the external destinations
// routes subscribe them to: rule matching, field templating, destination
// adapters, a durable delivery log, and an exponential backoff schedule
// (spec §4.6).
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/pkg/activity"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/dispatch/adapters"
	"github.com/cavendo/fleetctl/pkg/models"
	"github.com/cavendo/fleetctl/pkg/resilience"
)

// Dispatcher fires a lifecycle event against every matching route.
type Dispatcher struct {
	handle       *db.DB
	routes       RouteStore
	logs         DeliveryLogStore
	destinations map[models.DestinationType]adapters.Destination
	breakers     *resilience.Manager
	activity     *activity.Recorder
	logger       logging.Logger
}

// Config collects Dispatcher's dependencies. A nil Destinations map falls
// back to the four stock adapters.
type Config struct {
	Handle       *db.DB
	Routes       RouteStore
	Logs         DeliveryLogStore
	Destinations map[models.DestinationType]adapters.Destination
	Breakers     *resilience.Manager
	Activity     *activity.Recorder
	Logger       logging.Logger
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Routes == nil {
		cfg.Routes = SQLRouteStore{}
	}
	if cfg.Logs == nil {
		cfg.Logs = SQLDeliveryLogStore{}
	}
	if cfg.Destinations == nil {
		cfg.Destinations = defaultDestinations()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewManager(resilience.Config{}, cfg.Logger, nil)
	}
	if cfg.Activity == nil {
		cfg.Activity = activity.NewRecorder()
	}
	return &Dispatcher{
		handle: cfg.Handle, routes: cfg.Routes, logs: cfg.Logs,
		destinations: cfg.Destinations, breakers: cfg.Breakers,
		activity: cfg.Activity, logger: cfg.Logger,
	}
}

func defaultDestinations() map[models.DestinationType]adapters.Destination {
	return map[models.DestinationType]adapters.Destination{
		models.DestinationWebhook: adapters.NewWebhookDestination(),
		models.DestinationEmail:   adapters.NewEmailDestination(),
		models.DestinationStorage: adapters.NewStorageDestination(),
		models.DestinationChat:    adapters.NewChatDestination(),
	}
}

// Dispatch gathers routes matching eventType/projectID, evaluates their
// trigger_conditions against payload, and attempts delivery against each
// surviving route in parallel (spec §4.6: "per-route dispatch may occur in
// parallel"). Non-matching routes get no delivery-log row at all.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType models.EventType, projectID *string, deliverableID *string, payload models.JSONMap) error {
	routes, err := d.routes.MatchingRoutes(ctx, d.handle, eventType, projectID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, route := range routes {
		if !matchesConditions(route.TriggerConditions, payload) {
			continue
		}
		route := route
		g.Go(func() error {
			d.dispatchOne(gctx, route, deliverableID, eventType, payload)
			return nil
		})
	}
	return g.Wait()
}

// dispatchOne writes the initial delivery_logs row and performs the first
// attempt. Errors are absorbed into the log row rather than surfaced: one
// destination's failure must never abort sibling routes' dispatch, which
// is why this never returns an error to the errgroup.
func (d *Dispatcher) dispatchOne(ctx context.Context, route *models.Route, deliverableID *string, eventType models.EventType, payload models.JSONMap) {
	log := &models.DeliveryLog{
		ID: uuid.NewString(), RouteID: route.ID, DeliverableID: deliverableID,
		EventType: eventType, EventPayload: payload, Status: models.DeliveryStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.logs.Insert(ctx, d.handle, log); err != nil {
		d.logger.Error("failed to write delivery log", map[string]interface{}{"route_id": route.ID, "error": err.Error()})
		return
	}

	d.attempt(ctx, route, log)
	if err := d.logs.Update(ctx, d.handle, log); err != nil {
		d.logger.Error("failed to persist delivery attempt", map[string]interface{}{"delivery_log_id": log.ID, "error": err.Error()})
	}
}

// attempt runs one delivery try against route's destination, under circuit
// breaker protection, and updates log's fields in place per the outcome.
func (d *Dispatcher) attempt(ctx context.Context, route *models.Route, log *models.DeliveryLog) {
	dest, ok := d.destinations[route.DestinationType]
	if !ok {
		d.fail(log, 0, "no destination adapter registered for "+string(route.DestinationType))
		return
	}

	mapped := applyFieldMapping(route.FieldMapping, log.EventPayload)
	start := time.Now().UTC()
	log.AttemptNumber++
	log.DispatchedAt = &start

	raw, err := d.breakers.Execute(ctx, breakerName(route), func() (interface{}, error) {
		return dest.Send(ctx, route.DestinationConfig, mapped)
	})

	completed := time.Now().UTC()
	log.CompletedAt = &completed
	durationMs := completed.Sub(start).Milliseconds()
	log.DurationMs = &durationMs

	result, _ := raw.(adapters.Result)
	if err == nil {
		status := result.ResponseStatus
		log.ResponseStatus = &status
		log.ResponseBody = truncateResponseBody(result.ResponseBody)
		log.Status = models.DeliveryStatusDelivered
		log.NextRetryAt = nil
		log.ErrorMessage = ""
		return
	}

	log.ErrorMessage = err.Error()
	if result.ResponseStatus != 0 {
		status := result.ResponseStatus
		log.ResponseStatus = &status
		log.ResponseBody = truncateResponseBody(result.ResponseBody)
	}

	policy := route.Retry()
	if isHardFailure(result.ResponseStatus) || log.AttemptNumber > policy.MaxRetries {
		log.Status = models.DeliveryStatusFailed
		log.NextRetryAt = nil
		return
	}

	log.Status = models.DeliveryStatusRetrying
	next := nextRetryAt(start, policy, log.AttemptNumber)
	log.NextRetryAt = &next
}

func (d *Dispatcher) fail(log *models.DeliveryLog, responseStatus int, message string) {
	log.AttemptNumber++
	log.Status = models.DeliveryStatusFailed
	log.ErrorMessage = message
	if responseStatus != 0 {
		log.ResponseStatus = &responseStatus
	}
}

// isHardFailure reports whether a response status is a hard 4xx (other
// than 429, which is treated as transient rate limiting) per spec §4.6's
// retry policy. A zero status (network-level error, or a circuit-open
// rejection) is always transient.
func isHardFailure(responseStatus int) bool {
	return responseStatus >= 400 && responseStatus < 500 && responseStatus != 429
}

// nextRetryAt implements next_retry_at = now + initial_delay_ms * 2^(attempt-1).
func nextRetryAt(now time.Time, policy models.RetryPolicy, attemptNumber int) time.Time {
	delay := time.Duration(policy.InitialDelayMs) * time.Millisecond * time.Duration(1<<uint(attemptNumber-1))
	return now.Add(delay)
}

func truncateResponseBody(body string) string {
	if len(body) <= models.MaxResponseBodyBytes {
		return body
	}
	return body[:models.MaxResponseBodyBytes]
}

func breakerName(route *models.Route) string {
	return strings.Join([]string{string(route.DestinationType), route.ID}, ":")
}
