package migration

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
	"github.com/cavendo/fleetctl/pkg/db"
)

func newRunner(t *testing.T) (*Runner, *db.DB) {
	t.Helper()
	sqlxDB, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	handle := db.New(sqlxDB, db.Native, nil, logging.NopLogger{}, telemetry.NopMetrics{}, nil)
	return New(handle, logging.NopLogger{}), handle
}

func TestLoad_SortsLexicographically(t *testing.T) {
	fsys := fstest.MapFS{
		"sqlite/002_add_index.sql":   &fstest.MapFile{Data: []byte("SELECT 1;")},
		"sqlite/001_create_tasks.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
		"sqlite/readme.txt":          &fstest.MapFile{Data: []byte("not sql")},
	}

	files, err := Load(fsys, "sqlite")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001", files[0].Version)
	assert.Equal(t, "002", files[1].Version)
}

func TestRunner_AppliesPendingMigrationsOnce(t *testing.T) {
	r, handle := newRunner(t)
	ctx := context.Background()

	files := []File{
		{Version: "001", Name: "001_create_widgets.sql", SQL: "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"},
		{Version: "002", Name: "002_seed.sql", SQL: "INSERT INTO widgets (id, name) VALUES (1, 'alpha')"},
	}

	require.NoError(t, r.Apply(ctx, files))

	var count int
	require.NoError(t, handle.One(ctx, &count, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, 2, count)

	// Re-applying is a no-op: the seed insert would otherwise violate the
	// primary key.
	require.NoError(t, r.Apply(ctx, files))

	var widgetCount int
	require.NoError(t, handle.One(ctx, &widgetCount, "SELECT COUNT(*) FROM widgets"))
	assert.Equal(t, 1, widgetCount)
}

func TestRunner_DuplicateColumnIsIdempotentSuccess(t *testing.T) {
	r, handle := newRunner(t)
	ctx := context.Background()

	setup := []File{
		{Version: "001", Name: "001_create_widgets.sql", SQL: "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"},
		{Version: "002", Name: "002_add_priority_column.sql", SQL: "ALTER TABLE widgets ADD COLUMN priority INTEGER"},
	}
	require.NoError(t, r.Apply(ctx, setup))

	// Simulate a second deploy shipping the same add-column migration as a
	// *new*, unrecorded version (e.g. after a bookkeeping table was reset
	// partway): the column already exists, so this must record success
	// rather than abort.
	retry := []File{
		{Version: "003", Name: "003_add_priority_column_retry.sql", SQL: "ALTER TABLE widgets ADD COLUMN priority INTEGER"},
	}
	require.NoError(t, r.Apply(ctx, retry))

	var applied []string
	require.NoError(t, handle.Many(ctx, &applied, "SELECT version FROM schema_migrations ORDER BY version"))
	assert.Equal(t, []string{"001", "002", "003"}, applied)
}

func TestRunner_UnrecognizedFailureAbortsNamingVersion(t *testing.T) {
	r, _ := newRunner(t)
	ctx := context.Background()

	files := []File{
		{Version: "001", Name: "001_broken.sql", SQL: "CREATE TABLE widgets (id INTEGER PRIMARY KEY"}, // malformed SQL
	}

	err := r.Apply(ctx, files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001")
}
