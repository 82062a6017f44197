// Package resilience guards outbound destination calls (webhook POSTs,
// storage uploads, chat posts) with a circuit breaker so a single failing
// destination cannot stall the dispatcher's sweeper.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
)

// State mirrors gobreaker.State under this package's own names, so callers
// never need to import gobreaker themselves.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}

var (
	ErrOpen                = errors.New("circuit breaker is open")
	ErrTimeout             = errors.New("circuit breaker timeout")
	ErrMaxHalfOpenRequests = errors.New("max requests exceeded in half-open state")
)

// Config tunes a CircuitBreaker's thresholds. Zero values are replaced with
// defaults in New.
type Config struct {
	FailureThreshold    int
	FailureRatio        float64
	ResetTimeout        time.Duration
	SuccessThreshold    int
	TimeoutThreshold    time.Duration
	MaxRequestsHalfOpen int
	MinimumRequestCount int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.TimeoutThreshold == 0 {
		c.TimeoutThreshold = 10 * time.Second
	}
	if c.MaxRequestsHalfOpen == 0 {
		c.MaxRequestsHalfOpen = 5
	}
	if c.MinimumRequestCount == 0 {
		c.MinimumRequestCount = 10
	}
	return c
}

// CircuitBreaker wraps calls to one destination (one route, or one
// destination kind) in a sony/gobreaker state machine, enforcing
// TimeoutThreshold around fn before reporting the outcome back to the
// breaker — gobreaker itself has no notion of a per-call timeout.
type CircuitBreaker struct {
	name    string
	config  Config
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
	metrics telemetry.MetricsClient
}

// New creates a CircuitBreaker named for metrics and log correlation.
func New(name string, config Config, logger logging.Logger, metrics telemetry.MetricsClient) *CircuitBreaker {
	config = config.withDefaults()
	cb := &CircuitBreaker{name: name, config: config, logger: logger, metrics: metrics}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxInt(config.MaxRequestsHalfOpen, config.SuccessThreshold)),
		Interval:    0,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= uint32(config.FailureThreshold) {
				return true
			}
			return counts.Requests >= uint32(config.MinimumRequestCount) &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			fromState, toState := fromGobreakerState(from), fromGobreakerState(to)
			cb.logger.Info("circuit breaker state change", map[string]interface{}{
				"name": breakerName, "from": fromState.String(), "to": toState.String(),
			})
			cb.metrics.IncrementCounterWithLabels("circuit_breaker_state_changes_total", 1, map[string]string{
				"name": breakerName, "from": fromState.String(), "to": toState.String(),
			})
			cb.metrics.RecordGauge("circuit_breaker_current_state", float64(toState), map[string]string{"name": breakerName})
		},
	})
	return cb
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Execute runs fn under breaker protection. A timeout is enforced by ctx
// or by TimeoutThreshold, whichever fires first; the outcome — including a
// timeout — is reported back to the underlying gobreaker state machine as
// a success or failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()

	out, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.runWithTimeout(ctx, fn)
	})

	outcome := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		err = errors.Wrap(ErrOpen, "circuit breaker execution rejected")
		outcome = "rejected"
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		err = errors.Wrap(ErrMaxHalfOpenRequests, "circuit breaker execution rejected")
		outcome = "rejected"
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "failure"
		err = errors.Wrap(err, "destination call failed")
	}

	cb.recordCallMetrics(outcome, time.Since(start))
	if outcome == "rejected" {
		cb.logger.Warn("circuit breaker rejected call", map[string]interface{}{
			"name": cb.name, "state": cb.State().String(), "error": err.Error(),
		})
	}
	return out, err
}

func (cb *CircuitBreaker) runWithTimeout(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type result struct {
		value interface{}
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		value, err := fn()
		resultCh <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "context cancelled")
	case <-time.After(cb.config.TimeoutThreshold):
		return nil, ErrTimeout
	case res := <-resultCh:
		return res.value, res.err
	}
}

func (cb *CircuitBreaker) recordCallMetrics(outcome string, d time.Duration) {
	labels := map[string]string{"name": cb.name, "state": cb.State().String(), "outcome": outcome}
	cb.metrics.IncrementCounterWithLabels("circuit_breaker_requests_total", 1, labels)
	cb.metrics.RecordHistogram("circuit_breaker_request_duration_seconds", d.Seconds(), labels)
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State { return fromGobreakerState(cb.breaker.State()) }

// Manager hands out one CircuitBreaker per name (per route id, in the
// dispatcher's usage), creating it lazily with a shared default Config.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
	logger   logging.Logger
	metrics  telemetry.MetricsClient
}

// NewManager builds a Manager that lazily creates breakers with defaultConfig.
func NewManager(defaultConfig Config, logger logging.Logger, metrics telemetry.MetricsClient) *Manager {
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaultConfig,
		logger:   logger,
		metrics:  metrics,
	}
}

// Get returns the named breaker, creating it on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok = m.breakers[name]; ok {
		return cb
	}
	cb = New(name, m.defaults, m.logger, m.metrics)
	m.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker, creating it if needed.
func (m *Manager) Execute(ctx context.Context, name string, fn func() (interface{}, error)) (interface{}, error) {
	return m.Get(name).Execute(ctx, fn)
}
