package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
)

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		ResetTimeout:        20 * time.Millisecond,
		SuccessThreshold:    1,
		TimeoutThreshold:    50 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
		MinimumRequestCount: 100, // keep the ratio path out of the way of the threshold tests
	}
}

func TestCircuitBreaker_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", testConfig(), logging.NopLogger{}, telemetry.NopMetrics{})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), func() (interface{}, error) { return nil, boom })
		require.Error(t, err)
	}

	assert.Equal(t, Open, cb.State())

	_, err := cb.Execute(context.Background(), func() (interface{}, error) { return "unreachable", nil })
	require.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenRecoversToClosedOnSuccess(t *testing.T) {
	cb := New("test", testConfig(), logging.NopLogger{}, telemetry.NopMetrics{})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), func() (interface{}, error) { return nil, boom })
	}
	require.Equal(t, Open, cb.State())

	time.Sleep(25 * time.Millisecond)

	out, err := cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cb := New("test", testConfig(), logging.NopLogger{}, telemetry.NopMetrics{})

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), func() (interface{}, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		})
		require.ErrorIs(t, err, ErrTimeout)
	}

	assert.Equal(t, Open, cb.State())
}

func TestManager_CreatesBreakerPerName(t *testing.T) {
	m := NewManager(testConfig(), logging.NopLogger{}, telemetry.NopMetrics{})

	a := m.Get("route-a")
	b := m.Get("route-b")
	again := m.Get("route-a")

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
}
