package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cavendo/fleetctl/internal/logging"
)

// Sweeper periodically re-attempts delivery_logs rows whose next_retry_at
// has passed. It is the sole crash-recovery mechanism: a row left in
// retrying status by a process that died mid-attempt is picked up on the
// next sweep (spec §4.6).
type Sweeper struct {
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	logger     logging.Logger
}

// SweeperConfig tunes the sweep cadence and batch size. Zero values fall
// back to "every few seconds" / a modest batch, matching spec prose.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	Logger    logging.Logger
}

func NewSweeper(d *Dispatcher, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	return &Sweeper{dispatcher: d, interval: cfg.Interval, batchSize: cfg.BatchSize, logger: cfg.Logger}
}

// Run blocks, sweeping on Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// SweepOnce selects due retrying rows ordered by next_retry_at ascending
// and reattempts each; multiple rows are handled concurrently, mirroring
// Dispatch's per-route parallelism.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	d := s.dispatcher
	now := time.Now().UTC()
	due, err := d.logs.DueForRetry(ctx, d.handle, now, s.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, log := range due {
		log := log
		g.Go(func() error {
			route, err := d.routes.Get(gctx, d.handle, log.RouteID)
			if err != nil {
				s.logger.Error("failed to load route for retry", map[string]interface{}{"delivery_log_id": log.ID, "error": err.Error()})
				return nil
			}
			if route == nil {
				return nil // route was deleted since the last attempt; leave the row as-is
			}
			d.attempt(gctx, route, log)
			if err := d.logs.Update(gctx, d.handle, log); err != nil {
				s.logger.Error("failed to persist retry attempt", map[string]interface{}{"delivery_log_id": log.ID, "error": err.Error()})
			}
			return nil
		})
	}
	return g.Wait()
}
