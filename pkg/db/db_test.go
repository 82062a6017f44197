package db

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	sqlxDB, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	_, err = sqlxDB.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, count INTEGER NOT NULL DEFAULT 0)`)
	require.NoError(t, err)

	guard := newTxGuard(GuardError, nil)
	return New(sqlxDB, Native, guard, logging.NopLogger{}, telemetry.NopMetrics{}, nil)
}

type widgetRow struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Count int    `db:"count"`
}

func TestDB_InsertAndOne(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	res, err := d.Insert(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", "gizmo", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Changes)

	var w widgetRow
	err = d.One(ctx, &w, "SELECT id, name, count FROM widgets WHERE name = ?", "gizmo")
	require.NoError(t, err)
	assert.Equal(t, "gizmo", w.Name)
	assert.Equal(t, 3, w.Count)
}

func TestDB_OneReturnsErrNoRows(t *testing.T) {
	d := newTestDB(t)
	var w widgetRow
	err := d.One(context.Background(), &w, "SELECT id, name, count FROM widgets WHERE name = ?", "missing")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestDB_Many(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c"} {
		_, err := d.Insert(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", n, 0)
		require.NoError(t, err)
	}

	var rows []widgetRow
	require.NoError(t, d.Many(ctx, &rows, "SELECT id, name, count FROM widgets ORDER BY name"))
	assert.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Name)
}

func TestDB_InsertRejectsMultiRowValues(t *testing.T) {
	d := newTestDB(t)
	_, err := d.Insert(context.Background(), "INSERT INTO widgets (name, count) VALUES (?, ?), (?, ?)", "a", 1, "b", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multi-row VALUES")
}

func TestDB_TxCommitsOnSuccess(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	err := d.Tx(ctx, func(ctx context.Context, tx Handle) error {
		_, err := tx.Insert(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", "committed", 1)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, d.sqlxDB.Get(&count, "SELECT COUNT(*) FROM widgets WHERE name = 'committed'"))
	assert.Equal(t, 1, count)
}

func TestDB_TxRollsBackOnError(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	err := d.Tx(ctx, func(ctx context.Context, tx Handle) error {
		_, err := tx.Insert(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", "rolled-back", 1)
		require.NoError(t, err)
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	require.NoError(t, d.sqlxDB.Get(&count, "SELECT COUNT(*) FROM widgets WHERE name = 'rolled-back'"))
	assert.Equal(t, 0, count)
}

func TestDB_NestedTxRejected(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	err := d.Tx(ctx, func(ctx context.Context, tx Handle) error {
		return tx.Tx(ctx, func(ctx context.Context, inner Handle) error { return nil })
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested")
}

func TestDB_OuterCallRejectedWhileTxOpen(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	err := d.Tx(ctx, func(ctx context.Context, tx Handle) error {
		_, outerErr := d.Exec(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", "escaped", 1)
		require.Error(t, outerErr)
		assert.Contains(t, outerErr.Error(), "tx.exec")
		return nil
	})
	require.NoError(t, err)
}
