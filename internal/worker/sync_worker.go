package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"bizdash/internal/amqp"
	applog "bizdash/internal/log"
	"bizdash/internal/storage"

	"github.com/robfig/cron/v3"
)

const (
	// startupBatchLimit bounds the catch-up pass so a huge backlog does not
	// delay AMQP consumption.
	startupBatchLimit = 50

	cleanupSchedule    = "@hourly"
	staleResetSchedule = "@every 5m"
)

// Processor is the part of the sync processor the worker drives.
type Processor interface {
	ProcessQueueItem(ctx context.Context, id int64) error
	ProcessBatch(ctx context.Context) int
	ResetStale(ctx context.Context)
	Cleanup(ctx context.Context)
	Stats(ctx context.Context) (*storage.GetSyncQueueStatsRow, error)
}

// SyncWorker mirrors queued changes: AMQP deliveries are handled as they
// arrive, and a cron schedule sweeps whatever the messages missed.
type SyncWorker struct {
	processor Processor
	schedule  string

	mu   sync.Mutex
	cron *cron.Cron
}

func NewSyncWorker(processor Processor, schedule string) *SyncWorker {
	return &SyncWorker{processor: processor, schedule: schedule}
}

// HandleChange processes the queue row a change message points at.
func (w *SyncWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	slog.DebugContext(ctx, "Processing change message",
		applog.NewFields().WithChange(msg.QueueID, msg.Entity, msg.EntityID, msg.Version).ToSlice()...)
	if err := w.processor.ProcessQueueItem(ctx, msg.QueueID); err != nil {
		return fmt.Errorf("process queue item %d: %w", msg.QueueID, err)
	}
	return nil
}

// StartupSyncCheck reclaims stale items and drains the backlog left while
// the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) int {
	w.processor.ResetStale(ctx)

	total := 0
	for i := 0; i < startupBatchLimit; i++ {
		n := w.processor.ProcessBatch(ctx)
		total += n
		if n == 0 || ctx.Err() != nil {
			break
		}
	}
	if total == 0 {
		slog.InfoContext(ctx, "No pending sync items found on startup")
	} else {
		slog.InfoContext(ctx, "Startup sync completed", "processed", total)
	}
	w.reportStats(ctx)
	return total
}

// Sweep processes due items until a batch comes back empty.
func (w *SyncWorker) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n := w.processor.ProcessBatch(ctx)
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		slog.InfoContext(ctx, "Periodic sync sweep processed items", "count", total)
	}
	w.reportStats(ctx)
	return total
}

func (w *SyncWorker) reportStats(ctx context.Context) {
	s, err := w.processor.Stats(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read sync queue stats", "error", err)
		return
	}
	if s.FailedCount > 0 {
		slog.WarnContext(ctx, "Sync queue has failed items",
			"failed", s.FailedCount, "pending", s.PendingCount)
	}
}

// Start registers the sweep, cleanup and stale-reset jobs and starts the
// scheduler. Jobs use ctx and are skipped while a previous run is active.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return fmt.Errorf("sync worker is already running")
	}

	logger := cronLogger{}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))
	jobs := []struct {
		name, spec string
		fn         func()
	}{
		{"sweep", w.schedule, func() { w.Sweep(ctx) }},
		{"cleanup", cleanupSchedule, func() { w.processor.Cleanup(ctx) }},
		{"reset_stale", staleResetSchedule, func() { w.processor.ResetStale(ctx) }},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", j.name, j.spec, err)
		}
	}
	c.Start()
	w.cron = c

	slog.InfoContext(ctx, "Sync worker scheduler started", "schedule", w.schedule)
	return nil
}

// Stop halts the scheduler and waits for running jobs, or for ctx.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		slog.InfoContext(ctx, "Sync worker scheduler stopped")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync worker stop timed out")
		return ctx.Err()
	}
}

// cronLogger routes cron's logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
