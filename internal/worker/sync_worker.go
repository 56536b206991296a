// Package worker mirrors persisted transactions to the spreadsheet.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"fiscalforge/internal/amqp"
	"fiscalforge/internal/sheets"
	"fiscalforge/internal/storage"
)

// SyncWorker consumes sync messages and appends the referenced transactions
// to the mirror sheet. Rows that fail are marked with an error status and
// retried by the periodic pass.
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	appender  sheets.TransactionAppender
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, appender sheets.TransactionAppender, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		appender:  appender,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single sync message from AMQP.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.TransactionSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message", "id", msg.ID)

	tx, err := w.storage.GetTransaction(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	return w.mirror(ctx, tx.ID, func(ctx context.Context) (string, error) {
		return w.appender.AppendTransaction(ctx, tx)
	})
}

// ProcessPendingTransactions mirrors any rows the message pipeline missed,
// oldest first, up to the configured batch size.
func (w *SyncWorker) ProcessPendingTransactions(ctx context.Context) error {
	pending, err := w.storage.ListPendingSync(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	var failed int
	for _, tx := range pending {
		tx := tx
		if err := w.mirror(ctx, tx.ID, func(ctx context.Context) (string, error) {
			return w.appender.AppendTransaction(ctx, tx)
		}); err != nil {
			failed++
			slog.ErrorContext(ctx, "Failed to mirror pending transaction", "id", tx.ID, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pending transactions failed", failed, len(pending))
	}
	return nil
}

// StartupSyncCheck runs one pending pass at boot to catch anything queued
// while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	return w.ProcessPendingTransactions(ctx)
}

func (w *SyncWorker) mirror(ctx context.Context, id int64, append func(context.Context) (string, error)) error {
	ref, err := append(ctx)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append transaction %d: %w", id, err)
	}

	if err := w.storage.MarkSynced(ctx, id); err != nil {
		return fmt.Errorf("mark transaction %d synced: %w", id, err)
	}

	slog.InfoContext(ctx, "Transaction mirrored", "id", id, "ref", ref)
	return nil
}
