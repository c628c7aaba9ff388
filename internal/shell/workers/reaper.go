package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/store"
)

// ReaperConfig configures the teardown worker.
type ReaperConfig struct {
	Interval  time.Duration
	BatchSize int
	MaxRetry  int
	WaitTime  time.Duration
}

// DefaultReaperConfig returns default configuration.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:  30 * time.Second,
		BatchSize: 20,
		MaxRetry:  5,
		WaitTime:  10 * time.Second,
	}
}

// Reaper drains the teardown queue. Each job gets a bounded retry loop
// with linear backoff (wait × attempt). After MaxRetry failures the job
// is dropped with an error log: the SQL row is already deleted, the cloud
// object may be orphaned. Best-effort by design, not transactional.
type Reaper struct {
	store   store.Store
	drivers DriverResolver
	config  ReaperConfig
	logger  *slog.Logger

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a new teardown worker.
func NewReaper(s store.Store, drivers DriverResolver, config ReaperConfig, logger *slog.Logger) *Reaper {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 20
	}
	if config.MaxRetry == 0 {
		config.MaxRetry = 5
	}
	if config.WaitTime == 0 {
		config.WaitTime = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		store:   s,
		drivers: drivers,
		config:  config,
		logger:  logger.With("component", "reaper"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Start begins the reaper background goroutine.
func (r *Reaper) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.run()
	r.logger.Info("reaper started", "interval", r.config.Interval, "max_retry", r.config.MaxRetry)
}

// Stop gracefully stops the reaper.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

func (r *Reaper) run() {
	defer r.wg.Done()

	r.RunCycle(r.ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RunCycle(r.ctx)
		}
	}
}

// RunCycle drains one batch of pending teardowns. Exported so tests can
// drive the worker without the ticker.
func (r *Reaper) RunCycle(ctx context.Context) {
	teardowns, err := r.store.ListPendingTeardowns(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.Error("failed to list pending teardowns", "error", err)
		return
	}

	for i := range teardowns {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.process(ctx, &teardowns[i])
	}
}

// process runs the bounded retry loop for one job. An explicit loop, not
// recursion: attempts resume from the persisted count so a restart does
// not reset the budget.
func (r *Reaper) process(ctx context.Context, td *domain.Teardown) {
	logger := r.logger.With(
		"resource_type", td.ResourceType,
		"name", td.CompositeName,
		"provider", td.Provider)

	for attempt := td.Attempts + 1; attempt <= r.config.MaxRetry; attempt++ {
		err := r.teardown(ctx, td)
		if err == nil {
			if err := r.store.DeleteTeardown(ctx, td.ID); err != nil {
				logger.Error("failed to dequeue teardown", "error", err)
			}
			logger.Info("teardown complete", "attempts", attempt)
			return
		}

		logger.Warn("teardown attempt failed", "attempt", attempt, "error", err)
		if err := r.store.UpdateTeardownAttempts(ctx, td.ID, attempt); err != nil {
			logger.Error("failed to record teardown attempt", "error", err)
		}

		if attempt < r.config.MaxRetry {
			if err := r.sleep(ctx, r.config.WaitTime*time.Duration(attempt)); err != nil {
				return
			}
		}
	}

	// Out of attempts. The row is gone from SQL either way; the cloud
	// object may be orphaned.
	logger.Error("teardown abandoned after max retries", "max_retry", r.config.MaxRetry)
	if err := r.store.DeleteTeardown(ctx, td.ID); err != nil {
		logger.Error("failed to dequeue abandoned teardown", "error", err)
	}
}

func (r *Reaper) teardown(ctx context.Context, td *domain.Teardown) error {
	d := r.drivers.ForProvider(td.Provider)

	switch td.ResourceType {
	case domain.ResourceTypeInstance:
		return d.DeleteInstance(ctx, td.Region, td.Zone, td.CompositeName)

	case domain.ResourceTypeBucket:
		bucket, err := r.store.GetBucket(ctx, td.ResourceID)
		if err != nil {
			return err
		}
		return d.DeleteBucket(ctx, bucket, td.OwnerEmail)

	case domain.ResourceTypeRegistry:
		registry, err := r.store.GetRegistry(ctx, td.ResourceID)
		if err != nil {
			return err
		}
		return d.DeleteRegistry(ctx, registry, td.OwnerEmail)

	default:
		return fmt.Errorf("unknown teardown resource type %q", td.ResourceType)
	}
}
