package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sync queue statuses.
const (
	SyncPending    = "pending"
	SyncProcessing = "processing"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// DequeueSyncBatch returns pending items whose retry time has come, oldest first.
func (r *SQLiteRepository) DequeueSyncBatch(ctx context.Context, limit int64) ([]SyncQueue, error) {
	items, err := r.queries.DequeueSyncBatch(ctx, DequeueSyncBatchParams{Now: r.stamp(), Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("dequeue sync batch: %w", err)
	}
	return items, nil
}

func (r *SQLiteRepository) GetSyncItem(ctx context.Context, id int64) (SyncQueue, error) {
	item, err := r.queries.GetSyncItem(ctx, id)
	if err != nil {
		return SyncQueue{}, notFound(err, "sync item", fmt.Sprint(id))
	}
	return item, nil
}

// MarkSyncProcessing claims an item; false means it was no longer pending.
func (r *SQLiteRepository) MarkSyncProcessing(ctx context.Context, id int64) (bool, error) {
	ok, err := r.queries.MarkSyncProcessing(ctx, id, r.stamp())
	if err != nil {
		return false, fmt.Errorf("mark sync processing: %w", err)
	}
	return ok, nil
}

func (r *SQLiteRepository) MarkSyncComplete(ctx context.Context, id int64) error {
	if err := r.queries.MarkSyncComplete(ctx, id, r.stamp()); err != nil {
		return fmt.Errorf("mark sync complete: %w", err)
	}
	return nil
}

// IncrementSyncAttempt puts the item back to pending, not before retryAt.
func (r *SQLiteRepository) IncrementSyncAttempt(ctx context.Context, id int64, lastError string, retryAt time.Time) error {
	err := r.queries.IncrementSyncAttempt(ctx, IncrementSyncAttemptParams{
		ID:            id,
		LastError:     lastError,
		NextAttemptAt: formatTS(retryAt),
		Now:           r.stamp(),
	})
	if err != nil {
		return fmt.Errorf("increment sync attempt: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncFailed(ctx context.Context, id int64, lastError string) error {
	if err := r.queries.MarkSyncFailed(ctx, id, lastError, r.stamp()); err != nil {
		return fmt.Errorf("mark sync failed: %w", err)
	}
	slog.WarnContext(ctx, "Sync item marked as failed", "id", id, "error", lastError)
	return nil
}

// ResetStaleProcessing returns items stuck in processing for longer than
// olderThan to the pending state, e.g. after a worker crash.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := r.queries.ResetStaleProcessing(ctx, formatTS(r.now().Add(-olderThan)), r.stamp())
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Reset stale sync items", "count", n)
	}
	return n, nil
}

func (r *SQLiteRepository) CleanupCompletedSyncs(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.queries.CleanupCompletedSyncs(ctx, formatTS(before))
	if err != nil {
		return 0, fmt.Errorf("cleanup completed syncs: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) RetryFailedSyncs(ctx context.Context) (int64, error) {
	n, err := r.queries.RetryFailedSyncs(ctx, r.stamp())
	if err != nil {
		return 0, fmt.Errorf("retry failed syncs: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) GetSyncQueueStats(ctx context.Context) (*GetSyncQueueStatsRow, error) {
	s, err := r.queries.GetSyncQueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync queue stats: %w", err)
	}
	return &s, nil
}
