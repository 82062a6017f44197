// Package migration applies a lexicographically ordered list of SQL files
// idempotently, tracking what has run in an app-owned schema_migrations
// table. It intentionally does not use a migration framework: the
// duplicate-column-as-success semantics this module requires don't map
// onto the dirty-state model those frameworks assume.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/pkg/db"
)

// File is one parsed migration: its lexicographic version token (the
// leading NNN_ component of the filename) and its SQL body.
type File struct {
	Version string
	Name    string
	SQL     string
}

// Load reads every *.sql file directly under dir (an fs.FS, letting callers
// pass either os.DirFS or an embed.FS), sorted lexicographically by
// filename.
func Load(dirFS fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(dirFS, dir)
	if err != nil {
		return nil, fmt.Errorf("migration: reading %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(dirFS, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("migration: reading %s/%s: %w", dir, name, err)
		}
		version := strings.SplitN(name, "_", 2)[0]
		files = append(files, File{Version: version, Name: name, SQL: string(body)})
	}
	return files, nil
}

// bookkeepingDDL creates the schema_migrations table. It is written in the
// native (SQLite) dialect; db.Handle.Run rewrites it for the secondary
// dialect like every other statement.
const bookkeepingDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// duplicateDataMarker is a sentinel migration version whose unique
// violation indicates pre-existing duplicate data rather than a routine
// re-run; operators see a targeted diagnostic instead of a generic abort.
const duplicateDataMarker = "drop_duplicate_emails_unique_index"

// Runner applies pending migration files against a db.Handle.
type Runner struct {
	handle *db.DB
	logger logging.Logger
}

// New builds a Runner.
func New(handle *db.DB, logger logging.Logger) *Runner {
	return &Runner{handle: handle, logger: logger}
}

// Apply runs every file in files whose version is not already recorded in
// schema_migrations, in the order given (callers pass Load's output, which
// is already lexicographically sorted).
func (r *Runner) Apply(ctx context.Context, files []File) error {
	if err := r.handle.Run(ctx, bookkeepingDDL); err != nil {
		return fmt.Errorf("migration: creating schema_migrations: %w", err)
	}

	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if applied[f.Version] {
			continue
		}
		if err := r.applyOne(ctx, f); err != nil {
			return err
		}
		r.logger.Info("migration applied", map[string]interface{}{"version": f.Version, "name": f.Name})
	}
	return nil
}

func (r *Runner) appliedVersions(ctx context.Context) (map[string]bool, error) {
	var rows []struct {
		Version string `db:"version"`
	}
	if err := r.handle.Many(ctx, &rows, "SELECT version FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("migration: reading schema_migrations: %w", err)
	}
	applied := make(map[string]bool, len(rows))
	for _, row := range rows {
		applied[row.Version] = true
	}
	return applied, nil
}

// applyOne runs one migration file and records its version in the same
// transaction. A duplicate-column failure is treated as idempotent success:
// the patch's effect already exists, so the transaction is rolled back and
// re-opened purely to record the version, without re-running the SQL that
// just failed.
func (r *Runner) applyOne(ctx context.Context, f File) error {
	err := r.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		if runErr := tx.Run(ctx, f.SQL); runErr != nil {
			return runErr
		}
		_, insertErr := tx.Insert(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", f.Version, time.Now().UTC().Format(time.RFC3339))
		return insertErr
	})
	if err == nil {
		return nil
	}

	if isDuplicateColumn(err) {
		r.logger.Warn("migration add-column already applied, recording as success", map[string]interface{}{"version": f.Version, "name": f.Name})
		return r.recordVersionOnly(ctx, f.Version)
	}

	if isUniqueViolation(err) && strings.Contains(f.Name, duplicateDataMarker) {
		return fmt.Errorf("migration %s: pre-existing duplicate data violates the new unique index; deduplicate the offending rows by hand before re-running migrations: %w", f.Version, err)
	}

	return fmt.Errorf("migration %s (%s) failed: %w", f.Version, f.Name, err)
}

func (r *Runner) recordVersionOnly(ctx context.Context, version string) error {
	return r.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		_, err := tx.Insert(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

func isDuplicateColumn(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42701" // duplicate_column
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(strings.ToLower(sqliteErr.Error()), "duplicate column")
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
