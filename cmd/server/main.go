// Command server runs the fleetctl HTTP API: task and deliverable
// lifecycle endpoints, routing-rule management, and the dispatch sweeper
// that retries due delivery_logs rows in the background.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cavendo/fleetctl/internal/api"
	"github.com/cavendo/fleetctl/internal/config"
	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/deliverables"
	"github.com/cavendo/fleetctl/pkg/dispatch"
	"github.com/cavendo/fleetctl/pkg/routingrules"
	"github.com/cavendo/fleetctl/pkg/tasklifecycle"
)

func main() {
	logger := logging.NewStandardLogger("server")

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
	sqlxDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	registry := api.NewPrometheusRegistry()
	metrics := telemetry.NewPrometheusMetrics(registry)
	guard := db.NewGuard(db.GuardMode(cfg.Database.TxGuardMode), func(violation string) {
		logger.Warn("transaction guard violation", map[string]interface{}{"violation": violation})
	})
	handle := db.New(sqlxDB, dialect, guard, logger, metrics, nil)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{Handle: handle, Logger: logger.With(map[string]interface{}{"component": "dispatch"})})
	emitter := dispatch.NewEmitter(dispatcher, logger)

	taskService := tasklifecycle.NewService(tasklifecycle.Config{Handle: handle, Emitter: emitter, Logger: logger.With(map[string]interface{}{"component": "tasklifecycle"})})
	deliverableService := deliverables.NewService(deliverables.Config{
		Handle: handle, Store: deliverables.NewLocalFileStore(cfg.Storage.UploadRoot), Emitter: emitter,
	})
	routingRuleService := routingrules.NewService(routingrules.Config{Handle: handle})

	sweeper := dispatch.NewSweeper(dispatcher, dispatch.SweeperConfig{
		Interval: cfg.Sweeper.Interval, BatchSize: cfg.Sweeper.BatchSize,
		Logger: logger.With(map[string]interface{}{"component": "sweeper"}),
	})
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweeperCtx)
	defer stopSweeper()

	engine := api.NewRouter(api.Deps{
		Handle: handle, Tasks: taskService, Deliverables: deliverableService, RoutingRules: routingRuleService,
		Logger: logger, Metrics: metrics, Registry: registry, Config: cfg.Server,
	})

	httpServer := &http.Server{
		Addr: cfg.Server.ListenAddress, Handler: engine,
		ReadTimeout: cfg.Server.ReadTimeout, WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting http server", map[string]interface{}{"address": cfg.Server.ListenAddress})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal", nil)

	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("server stopped gracefully", nil)
}
