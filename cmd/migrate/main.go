// Command migrate applies the schema migrations under migrations/sqlite or
// migrations/postgres, selected by -driver, against -dsn.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/db/migration"
)

func main() {
	driver := flag.String("driver", "sqlite", "database driver: sqlite or postgres")
	dsn := flag.String("dsn", "fleetctl.db", "database connection string")
	dir := flag.String("dir", "", "migrations directory (defaults to migrations/<driver>)")
	flag.Parse()

	dialect := db.Native
	migrationsDir := *dir
	if *driver == "postgres" {
		dialect = db.Secondary
		if migrationsDir == "" {
			migrationsDir = "migrations/postgres"
		}
	} else if migrationsDir == "" {
		migrationsDir = "migrations/sqlite"
	}

	sqlxDB, err := sqlx.Connect(dialect.DriverName(), *dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer sqlxDB.Close()

	logger := logging.NewStandardLogger("migrate")
	handle := db.New(sqlxDB, dialect, nil, logger, nil, nil)
	runner := migration.New(handle, logger)

	files, err := migration.Load(os.DirFS(migrationsDir), ".")
	if err != nil {
		log.Fatalf("failed to load migrations from %s: %v", migrationsDir, err)
	}

	if err := runner.Apply(context.Background(), files); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	logger.Info("migrations applied", map[string]interface{}{"count": len(files), "driver": *driver})
}
