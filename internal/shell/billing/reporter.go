package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/nubo/internal/shell/store"
)

// =============================================================================
// Background Reporter
// =============================================================================

// Reporter batches unreported consumption records and forwards them to the
// usage API in the background.
type Reporter struct {
	store     store.Store
	client    Client
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// ReporterConfig holds configuration for the background reporter.
type ReporterConfig struct {
	Store     store.Store
	Client    Client
	Interval  time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// NewReporter creates a new background reporter.
func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Reporter{
		store:     cfg.Store,
		client:    cfg.Client,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger.With("component", "billing"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background reporting loop.
// It runs until Stop() is called or the context is cancelled.
func (r *Reporter) Start(ctx context.Context) {
	r.logger.Info("starting billing reporter",
		"interval", r.interval,
		"batch_size", r.batchSize,
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.doneCh)

	// Report any pending records on startup
	r.reportBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("billing reporter stopped due to context cancellation")
			return
		case <-r.stopCh:
			r.logger.Info("billing reporter stopped")
			return
		case <-ticker.C:
			r.reportBatch(ctx)
		}
	}
}

// Stop signals the reporter to stop and waits for it to finish.
func (r *Reporter) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// reportBatch retrieves unreported consumption records and sends them.
// Records stay unreported on any failure so the next cycle retries them.
func (r *Reporter) reportBatch(ctx context.Context) {
	records, err := r.store.GetUnreportedConsumptions(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("failed to get unreported consumptions", "error", err)
		return
	}

	if len(records) == 0 {
		return
	}

	r.logger.Debug("reporting consumptions", "count", len(records))

	if err := r.client.ReportConsumptionBatch(ctx, records); err != nil {
		r.logger.Error("failed to report consumptions",
			"error", err,
			"count", len(records),
		)
		return
	}

	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}

	if err := r.store.MarkConsumptionsReported(ctx, ids, time.Now()); err != nil {
		r.logger.Error("failed to mark consumptions reported",
			"error", err,
			"count", len(ids),
		)
		return
	}

	r.logger.Info("reported consumptions", "count", len(records))
}

// ReportNow triggers an immediate report cycle (useful for testing).
func (r *Reporter) ReportNow(ctx context.Context) {
	r.reportBatch(ctx)
}
