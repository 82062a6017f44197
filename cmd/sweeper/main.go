// Command sweeper runs the dispatch retry sweeper as a standalone process,
// for deployments that separate the HTTP API from delivery-retry workers.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cavendo/fleetctl/internal/config"
	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/dispatch"
)

func main() {
	flag.Parse()
	logger := logging.NewStandardLogger("sweeper")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dialect := db.Native
	if cfg.Database.Driver == "postgres" {
		dialect = db.Secondary
	}

	sqlxDB, err := sqlx.Connect(dialect.DriverName(), cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer sqlxDB.Close()
	sqlxDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	guard := db.NewGuard(db.GuardMode(cfg.Database.TxGuardMode), nil)
	handle := db.New(sqlxDB, dialect, guard, logger, nil, nil)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{Handle: handle, Logger: logger})
	sweeper := dispatch.NewSweeper(dispatcher, dispatch.SweeperConfig{
		Interval: cfg.Sweeper.Interval, BatchSize: cfg.Sweeper.BatchSize, Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal", nil)
		cancel()
	}()

	logger.Info("starting dispatch sweeper", map[string]interface{}{"interval": cfg.Sweeper.Interval.String(), "batch_size": cfg.Sweeper.BatchSize})
	sweeper.Run(ctx)
	logger.Info("sweeper stopped", nil)
}
