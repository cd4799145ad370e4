// Package worker archives completed donations from the ledger to the
// spreadsheet. It is driven by AMQP messages, with a ledger catch-up pass as
// backup for lost messages.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"donat/internal/amqp"
	"donat/internal/core"
	"donat/internal/sheets"
	"donat/internal/storage"
)

// Store is the slice of the ledger repository the worker needs.
type Store interface {
	GetDonation(ctx context.Context, id int64) (core.Donation, error)
	GetPendingArchive(ctx context.Context, limit int) ([]storage.PendingArchiveDonation, error)
	MarkArchived(ctx context.Context, id int64) error
	MarkArchiveError(ctx context.Context, id int64) error
}

type ArchiveWorker struct {
	store     Store
	sheets    sheets.DonationAppender
	batchSize int
}

func NewArchiveWorker(store Store, appender sheets.DonationAppender, batchSize int) *ArchiveWorker {
	return &ArchiveWorker{
		store:     store,
		sheets:    appender,
		batchSize: batchSize,
	}
}

// HandleArchiveMessage processes one archive request from the queue. The
// donation is re-read from the ledger, so the row always reflects current
// state rather than whatever the publisher saw.
func (w *ArchiveWorker) HandleArchiveMessage(ctx context.Context, msg *amqp.DonationArchiveMessage) error {
	slog.InfoContext(ctx, "Processing archive message", "id", msg.ID)

	don, err := w.store.GetDonation(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get donation from ledger: %w", err)
	}

	if don.Status != core.StatusCompleted {
		// A failed or still-pending donation has nothing to archive. Ack the
		// message; the catch-up pass will pick it up if it completes later.
		slog.WarnContext(ctx, "Skipping archive of non-completed donation",
			"id", don.ID, "status", don.Status)
		return nil
	}

	return w.archiveDonation(ctx, don)
}

// ProcessPendingArchive archives completed donations whose queue message was
// lost. This is the backup mechanism behind AMQP delivery.
func (w *ArchiveWorker) ProcessPendingArchive(ctx context.Context) error {
	pending, err := w.store.GetPendingArchive(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending archive: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending archive donations", "count", len(pending))

	for _, p := range pending {
		don, err := w.store.GetDonation(ctx, p.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get donation", "id", p.ID, "error", err)
			if err := w.store.MarkArchiveError(ctx, p.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to mark archive error", "id", p.ID, "error", err)
			}
			continue
		}
		if err := w.archiveDonation(ctx, don); err != nil {
			slog.ErrorContext(ctx, "Failed to archive donation", "id", p.ID, "error", err)
			continue
		}
	}
	return nil
}

// StartupCheck drains the archive backlog once at worker startup, recovering
// from missed messages or worker downtime.
func (w *ArchiveWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.store.GetPendingArchive(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending archive for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending archive donations found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending archive donations on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0
	for _, p := range pending {
		don, err := w.store.GetDonation(ctx, p.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get donation for startup archive",
				"id", p.ID, "error", err)
			if err := w.store.MarkArchiveError(ctx, p.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to mark archive error", "id", p.ID, "error", err)
			}
			errorCount++
			continue
		}
		if err := w.archiveDonation(ctx, don); err != nil {
			slog.ErrorContext(ctx, "Failed to archive donation during startup",
				"id", p.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup archive check completed",
		"total", len(pending),
		"archived", successCount,
		"errors", errorCount)
	return nil
}

func (w *ArchiveWorker) archiveDonation(ctx context.Context, don core.Donation) error {
	ref, err := w.sheets.Append(ctx, don)
	if err != nil {
		if markErr := w.store.MarkArchiveError(ctx, don.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark archive error", "id", don.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.store.MarkArchived(ctx, don.ID); err != nil {
		// The row is written; only the bookkeeping failed.
		slog.ErrorContext(ctx, "Failed to mark as archived", "id", don.ID, "error", err)
	}

	slog.InfoContext(ctx, "Donation archived",
		"id", don.ID,
		"sheets_ref", ref,
		"amount_kopecks", don.Amount.Kopecks)
	return nil
}
