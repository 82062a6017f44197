package router

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
	"github.com/cavendo/fleetctl/pkg/db"
)

func newReserveTestDB(t *testing.T) *db.DB {
	t.Helper()
	sqlxDB, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlxDB.SetMaxOpenConns(1) // single-writer native dialect, per spec §5
	t.Cleanup(func() { _ = sqlxDB.Close() })

	_, err = sqlxDB.Exec(`CREATE TABLE agents (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		max_concurrent_tasks INTEGER,
		active_task_count INTEGER NOT NULL DEFAULT 0
	)`)
	require.NoError(t, err)

	return db.New(sqlxDB, db.Native, nil, logging.NopLogger{}, telemetry.NopMetrics{}, nil)
}

func TestReserve_SucceedsUnderCapacity(t *testing.T) {
	handle := newReserveTestDB(t)
	ctx := context.Background()
	_, err := handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES (?, 'active', 2, 0)", "a1")
	require.NoError(t, err)

	var result ReserveResult
	err = handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		r, err := Reserve(ctx, tx, "a1")
		result = r
		return err
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestReserve_FailsWhenAgentNotActive(t *testing.T) {
	handle := newReserveTestDB(t)
	ctx := context.Background()
	_, err := handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES (?, 'paused', NULL, 0)", "a1")
	require.NoError(t, err)

	var result ReserveResult
	err = handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		r, err := Reserve(ctx, tx, "a1")
		result = r
		return err
	})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, "agent not active", result.Reason)
}

func TestReserve_FailsWhenAgentNotFound(t *testing.T) {
	handle := newReserveTestDB(t)
	ctx := context.Background()

	var result ReserveResult
	err := handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		r, err := Reserve(ctx, tx, "missing")
		result = r
		return err
	})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, "agent not found", result.Reason)
}

// TestReserve_CapacityRace is spec §8 scenario 1: agent A has max=2,
// count=1. Two concurrent reservations fire; exactly one succeeds and the
// final count is 2.
func TestReserve_CapacityRace(t *testing.T) {
	handle := newReserveTestDB(t)
	ctx := context.Background()
	_, err := handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES (?, 'active', 2, 1)", "a1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]ReserveResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
				r, err := Reserve(ctx, tx, "a1")
				results[idx] = r
				return err
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r.OK {
			successes++
		} else {
			assert.Equal(t, "at capacity", r.Reason)
		}
	}
	assert.Equal(t, 1, successes)

	var count int
	require.NoError(t, handle.One(ctx, &count, "SELECT active_task_count FROM agents WHERE id = ?", "a1"))
	assert.Equal(t, 2, count)
}

func TestReserve_RollbackReleasesReservation(t *testing.T) {
	handle := newReserveTestDB(t)
	ctx := context.Background()
	_, err := handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES (?, 'active', 2, 0)", "a1")
	require.NoError(t, err)

	err = handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		r, rErr := Reserve(ctx, tx, "a1")
		require.NoError(t, rErr)
		require.True(t, r.OK)
		return assert.AnError // force rollback
	})
	require.Error(t, err)

	var count int
	require.NoError(t, handle.One(ctx, &count, "SELECT active_task_count FROM agents WHERE id = ?", "a1"))
	assert.Equal(t, 0, count)
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	handle := newReserveTestDB(t)
	ctx := context.Background()
	_, err := handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES (?, 'active', NULL, 0)", "a1")
	require.NoError(t, err)

	err = handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		return Release(ctx, tx, "a1")
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, handle.One(ctx, &count, "SELECT active_task_count FROM agents WHERE id = ?", "a1"))
	assert.Equal(t, 0, count)
}
