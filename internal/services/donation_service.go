// Package services holds the donation orchestrator: the one place where the
// payment gateway, the ledger and the archive queue are sequenced.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"donat/internal/core"
	"donat/internal/ledger"
	"donat/internal/payment"
)

// ArchivePublisher is the slice of the AMQP client the orchestrator needs.
type ArchivePublisher interface {
	PublishDonationArchive(ctx context.Context, id int64) error
	Close() error
}

// DonationService orchestrates donation intake and settlement across the
// payment gateway and the ledger. A nil archive publisher is valid; archiving
// is then skipped with a warning.
type DonationService struct {
	store   ledger.Store
	gateway *payment.Gateway
	archive ArchivePublisher
}

func NewDonationService(store ledger.Store, gateway *payment.Gateway, archive ArchivePublisher) *DonationService {
	return &DonationService{
		store:   store,
		gateway: gateway,
		archive: archive,
	}
}

// InitiateRequest is a donation intake from either channel. Name and note are
// optional; the web channel usually attaches them later via AttachDonorInfo.
type InitiateRequest struct {
	Amount   core.Money
	Source   core.Source
	Provider core.Provider
	Name     string
	Note     string
}

// InitiateResult carries what the client needs to continue the payment.
type InitiateResult struct {
	Donation    core.Donation
	RedirectURL string
}

// Initiate validates the amount, creates a payment intent with the chosen
// provider and only then records the donation. A gateway failure leaves no
// ledger record behind.
func (s *DonationService) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if err := req.Amount.Validate(); err != nil {
		return InitiateResult{}, err
	}
	if !req.Amount.InRange() {
		return InitiateResult{}, fmt.Errorf("%w: %d kopecks", core.ErrAmountOutOfRange, req.Amount.Kopecks)
	}

	provider, err := s.gateway.Provider(req.Provider)
	if err != nil {
		return InitiateResult{}, err
	}

	intent, err := provider.CreateIntent(ctx, req.Amount, "Donation")
	if err != nil {
		return InitiateResult{}, fmt.Errorf("create payment intent: %w", err)
	}

	don, err := s.store.CreateDonation(ctx, core.NewDonation{
		Amount:        req.Amount,
		PaymentID:     intent.ProviderID,
		Source:        req.Source,
		Provider:      req.Provider,
		CryptoAddress: intent.SettlementAddress,
	})
	if err != nil {
		return InitiateResult{}, fmt.Errorf("record donation: %w", err)
	}

	if req.Name != "" || req.Note != "" {
		don, err = s.store.AttachMetadata(ctx, don.ID, req.Name, req.Note)
		if err != nil {
			return InitiateResult{}, fmt.Errorf("attach donor info: %w", err)
		}
	}

	slog.InfoContext(ctx, "Donation initiated",
		"id", don.ID,
		"payment_id", don.PaymentID,
		"amount_kopecks", don.Amount.Kopecks,
		"source", don.Source,
		"provider", don.Provider)

	return InitiateResult{Donation: don, RedirectURL: intent.RedirectURL}, nil
}

// AttachDonorInfo merges donor name and note into an existing donation, keyed
// by the provider payment reference. Empty fields never clobber stored ones.
func (s *DonationService) AttachDonorInfo(ctx context.Context, paymentID, name, note string) (core.Donation, error) {
	don, err := s.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return core.Donation{}, err
	}
	return s.store.AttachMetadata(ctx, don.ID, name, note)
}

// PollResult carries the donation after a poll plus the transient
// continuation details the provider reported for a still-pending intent.
type PollResult struct {
	Donation    core.Donation
	RedirectURL string
}

// PollAndSettle checks the provider-side state of a donation and moves the
// ledger record accordingly. The provider is read from the record itself, so
// a donation is always polled against the backend that issued its payment.
// Settlement is idempotent: repeated polls of a terminal donation return the
// stored record untouched. While the intent is still pending, the provider's
// checkout link and settlement address are passed through so the client can
// re-serve them.
func (s *DonationService) PollAndSettle(ctx context.Context, paymentID string) (PollResult, error) {
	don, err := s.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return PollResult{}, err
	}
	if don.Status.Terminal() {
		return PollResult{Donation: don}, nil
	}

	provider, err := s.gateway.Provider(don.Provider)
	if err != nil {
		return PollResult{}, err
	}

	result, err := provider.CheckStatus(ctx, don.PaymentID)
	if err != nil {
		return PollResult{}, fmt.Errorf("check payment status: %w", err)
	}

	out := PollResult{}
	switch result.Status {
	case payment.IntentSettled:
		don, err = s.store.SetStatus(ctx, don.ID, core.StatusCompleted)
		if err != nil {
			return PollResult{}, fmt.Errorf("settle donation: %w", err)
		}
		s.publishArchive(ctx, don.ID)
	case payment.IntentFailed:
		don, err = s.store.SetStatus(ctx, don.ID, core.StatusFailed)
		if err != nil {
			return PollResult{}, fmt.Errorf("fail donation: %w", err)
		}
	default:
		out.RedirectURL = result.RedirectURL
		if don.CryptoAddress == "" && result.SettlementAddress != "" {
			don.CryptoAddress = result.SettlementAddress
		}
	}

	out.Donation = don
	return out, nil
}

// Stats aggregates completed donations.
func (s *DonationService) Stats(ctx context.Context) (core.Stats, error) {
	return s.store.Stats(ctx)
}

// WeeklyStats returns per-day aggregates for the trailing seven days.
func (s *DonationService) WeeklyStats(ctx context.Context) ([]core.DailyStat, error) {
	return s.store.WeeklyStats(ctx)
}

func (s *DonationService) publishArchive(ctx context.Context, id int64) {
	if s.archive == nil {
		slog.WarnContext(ctx, "Archive publisher not available, skipping archive message", "id", id)
		return
	}
	if err := s.archive.PublishDonationArchive(ctx, id); err != nil {
		// The donation is settled either way; the worker catch-up pass will
		// pick it up from the ledger.
		slog.ErrorContext(ctx, "Failed to publish archive message", "id", id, "error", err)
	}
}

// Close closes the archive publisher if one is configured.
func (s *DonationService) Close() error {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			return fmt.Errorf("close archive publisher: %w", err)
		}
	}
	return nil
}
