// Package sheets defines the outbound port for archiving completed donations
// to a spreadsheet.
package sheets

import (
	"context"

	"donat/internal/core"
)

// DonationAppender writes one completed donation as a spreadsheet row and
// returns a reference to the written row.
type DonationAppender interface {
	Append(ctx context.Context, d core.Donation) (rowRef string, err error)
}
