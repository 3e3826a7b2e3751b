package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bizdash/internal/core"
	applog "bizdash/internal/log"
	"bizdash/internal/metrics"
	"bizdash/internal/sheets"
	"bizdash/internal/storage"
)

type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the number of attempts before an item is marked failed (default: 3)
	MaxRetries int

	// RetryDelay is the wait before the first retry; it doubles per attempt (default: 30s)
	RetryDelay time.Duration

	// StaleAfter is how long an item may sit in processing before it is reclaimed (default: 5m)
	StaleAfter time.Duration

	// CleanupInterval is how often completed items are purged (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		RetryDelay:      30 * time.Second,
		StaleAfter:      5 * time.Minute,
		CleanupInterval: time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

const maxRetryDelay = 30 * time.Minute

// SyncProcessor drains the sync queue into the mirror. It can run its own
// poll loop, or be driven item by item from AMQP deliveries.
type SyncProcessor struct {
	storage *storage.SQLiteRepository
	mirror  sheets.Mirror
	config  SyncProcessorConfig
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(store *storage.SQLiteRepository, mirror sheets.Mirror, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{
		storage: store,
		mirror:  mirror,
		config:  config,
		metrics: metrics.Get(),
	}
}

// Start begins the polling loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	p.ResetStale(ctx)
	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			p.Cleanup(ctx)
		}
	}
}

// ProcessBatch handles up to BatchSize due items and returns how many it
// claimed.
func (p *SyncProcessor) ProcessBatch(ctx context.Context) int {
	items, err := p.storage.DequeueSyncBatch(ctx, int64(p.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue sync batch", "error", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}
	slog.DebugContext(ctx, "Processing sync batch", "count", len(items))

	handled := 0
	for _, item := range items {
		if p.stopping(ctx) {
			break
		}
		ok, err := p.storage.MarkSyncProcessing(ctx, item.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to mark item as processing", "id", item.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		p.process(ctx, item)
		handled++
	}
	return handled
}

func (p *SyncProcessor) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// ProcessQueueItem handles one queue row by id. Items that are not pending,
// or were claimed by someone else, are skipped. Mirror errors are recorded
// on the row; only bookkeeping failures are returned.
func (p *SyncProcessor) ProcessQueueItem(ctx context.Context, id int64) error {
	item, err := p.storage.GetSyncItem(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		slog.DebugContext(ctx, "Sync item already purged", "queue_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	if item.Status != storage.SyncPending {
		slog.DebugContext(ctx, "Skipping sync item", "queue_id", id, "status", item.Status)
		return nil
	}
	ok, err := p.storage.MarkSyncProcessing(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	p.process(ctx, item)
	return nil
}

func (p *SyncProcessor) process(ctx context.Context, item storage.SyncQueue) {
	start := time.Now()
	err := p.writeMirror(ctx, item)
	if err != nil {
		result := p.handleFailure(ctx, item, err)
		p.metrics.SyncResult(item.Entity, result, time.Since(start))
		return
	}
	if err := p.storage.MarkSyncComplete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark sync complete", "id", item.ID, "error", err)
	}
	p.metrics.SyncResult(item.Entity, "ok", time.Since(start))
}

// writeMirror pushes the current state of the entity whatever the queued
// operation. Entities that no longer exist are removed from the mirror; a
// stale delete for an entity that was re-created rewrites its row instead.
func (p *SyncProcessor) writeMirror(ctx context.Context, item storage.SyncQueue) error {
	if p.mirror == nil {
		return errors.New("no mirror configured")
	}
	if item.Operation != storage.OpUpsert && item.Operation != storage.OpDelete {
		return fmt.Errorf("unknown operation: %s", item.Operation)
	}

	values, err := p.loadRow(ctx, item.Entity, item.EntityID)
	if errors.Is(err, core.ErrNotFound) {
		return p.mirror.DeleteRow(ctx, item.Entity, item.EntityID)
	}
	if err != nil {
		return err
	}
	if err := p.mirror.UpsertRow(ctx, item.Entity, item.EntityID, values); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Mirrored entity",
		applog.NewFields().WithChange(item.ID, item.Entity, item.EntityID, item.Version).ToSlice()...)
	return nil
}

func (p *SyncProcessor) loadRow(ctx context.Context, entity, id string) ([]string, error) {
	switch entity {
	case storage.EntityProject:
		v, err := p.storage.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		return sheets.ProjectRow(v), nil
	case storage.EntityClient:
		v, err := p.storage.GetClient(ctx, id)
		if err != nil {
			return nil, err
		}
		return sheets.ClientRow(v), nil
	case storage.EntityExpense:
		v, err := p.storage.GetExpense(ctx, id)
		if err != nil {
			return nil, err
		}
		return sheets.ExpenseRow(v), nil
	case storage.EntityComment:
		v, err := p.storage.GetComment(ctx, id)
		if err != nil {
			return nil, err
		}
		return sheets.CommentRow(v), nil
	case storage.EntityFile:
		v, err := p.storage.GetFile(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.URL == "" {
			return nil, core.ErrNotFound
		}
		return sheets.FileRow(v), nil
	default:
		return nil, fmt.Errorf("unknown entity: %s", entity)
	}
}

// handleFailure schedules a retry with exponential backoff, or marks the
// item failed once MaxRetries attempts are spent.
func (p *SyncProcessor) handleFailure(ctx context.Context, item storage.SyncQueue, processErr error) string {
	attempt := item.Attempts + 1
	slog.WarnContext(ctx, "Sync processing failed",
		"id", item.ID,
		"entity", item.Entity,
		"entity_id", item.EntityID,
		"attempt", attempt,
		"error", processErr)

	if attempt >= int64(p.config.MaxRetries) {
		if err := p.storage.MarkSyncFailed(ctx, item.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark sync as failed", "id", item.ID, "error", err)
		}
		return "failed"
	}
	retryAt := time.Now().Add(p.retryDelay(item.Attempts))
	if err := p.storage.IncrementSyncAttempt(ctx, item.ID, processErr.Error(), retryAt); err != nil {
		slog.ErrorContext(ctx, "Failed to increment sync attempt", "id", item.ID, "error", err)
	}
	return "retry"
}

func (p *SyncProcessor) retryDelay(attempts int64) time.Duration {
	d := p.config.RetryDelay
	for i := int64(0); i < attempts && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// ResetStale reclaims items left in processing by a crashed worker.
func (p *SyncProcessor) ResetStale(ctx context.Context) {
	if _, err := p.storage.ResetStaleProcessing(ctx, p.config.StaleAfter); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing items", "error", err)
	}
}

// Cleanup purges completed items older than CleanupAge.
func (p *SyncProcessor) Cleanup(ctx context.Context) {
	n, err := p.storage.CleanupCompletedSyncs(ctx, time.Now().Add(-p.config.CleanupAge))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed syncs", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Cleaned up completed sync items", "count", n)
	}
}

// Stats returns queue counts and refreshes the queue depth gauge.
func (p *SyncProcessor) Stats(ctx context.Context) (*storage.GetSyncQueueStatsRow, error) {
	s, err := p.storage.GetSyncQueueStats(ctx)
	if err != nil {
		return nil, err
	}
	p.metrics.QueueDepth(s.PendingCount, s.ProcessingCount, s.CompletedCount, s.FailedCount)
	return s, nil
}

// RetryFailed puts every failed item back to pending.
func (p *SyncProcessor) RetryFailed(ctx context.Context) (int64, error) {
	return p.storage.RetryFailedSyncs(ctx)
}
