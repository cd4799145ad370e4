// Package ledger defines the authoritative store for donation records and
// their derived daily statistics.
package ledger

import (
	"context"

	"donat/internal/core"
)

// Store is the port the orchestrator talks to. Implementations must
// serialize concurrent mutation so that two settles of the same donation
// cannot double-count statistics: SetStatus is idempotent, and only the
// pending→completed edge increments the daily stat bucket (attributed to the
// donation's creation day).
type Store interface {
	// CreateDonation assigns an id, sets status=pending and createdAt=now.
	// It never updates statistics.
	CreateDonation(ctx context.Context, d core.NewDonation) (core.Donation, error)

	// GetByPaymentID returns core.ErrNotFound when no record matches.
	GetByPaymentID(ctx context.Context, paymentID string) (core.Donation, error)

	// AttachMetadata merges non-empty name/note into the record. Existing
	// non-empty values are never overwritten by empty ones.
	AttachMetadata(ctx context.Context, id int64, name, note string) (core.Donation, error)

	// SetStatus applies a status transition. Re-applying the current status
	// is a no-op returning the unchanged record; transitions out of a
	// terminal status are also no-ops.
	SetStatus(ctx context.Context, id int64, status core.Status) (core.Donation, error)

	// Stats aggregates completed donations only.
	Stats(ctx context.Context) (core.Stats, error)

	// WeeklyStats returns daily stat buckets for the trailing 7 days
	// (today-6 through today), ascending by date. Days without a bucket are
	// omitted.
	WeeklyStats(ctx context.Context) ([]core.DailyStat, error)
}
