package core

import (
	"errors"
	"strings"
	"time"
)

const (
	SourceWeb  Source = "web"
	SourceChat Source = "chat"

	ProviderWallet Provider = "wallet"
	ProviderCrypto Provider = "crypto"

	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Amount policy bounds in major units (rubles). Both donation channels
// validate against the same range at intake.
const (
	MinAmountMajor int64 = 10
	MaxAmountMajor int64 = 100000
)

type (
	Source   string
	Provider string
	Status   string

	// Donation is one attempted or completed gift. The id is assigned by the
	// ledger at creation; paymentId is the provider-issued reference used as
	// the join key between client polling and ledger state.
	Donation struct {
		ID            int64
		PaymentID     string
		Amount        Money
		Name          string
		Note          string
		Source        Source
		Provider      Provider
		Status        Status
		CryptoAddress string
		CreatedAt     time.Time
	}

	// NewDonation carries the fields the ledger needs to create a record.
	// Status and createdAt are assigned by the ledger itself.
	NewDonation struct {
		Amount        Money
		PaymentID     string
		Source        Source
		Provider      Provider
		CryptoAddress string
	}

	// DailyStat is the per-calendar-day aggregate of completed donations,
	// keyed by midnight-truncated date in process-local time.
	DailyStat struct {
		Date        time.Time
		TotalAmount int64
		Count       int64
	}

	// Stats summarizes completed donations.
	Stats struct {
		TotalAmount   int64
		TotalCount    int64
		AverageAmount int64
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrNotFound         = errors.New("not found")
	ErrDuplicatePayment = errors.New("duplicate payment id")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

func (s Source) Valid() bool {
	return s == SourceWeb || s == SourceChat
}

func (p Provider) Valid() bool {
	return p == ProviderWallet || p == ProviderCrypto
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusFailed
}

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (d NewDonation) Validate() error {
	if err := d.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(d.PaymentID) == "" {
		return errors.New("empty payment id")
	}
	if !d.Source.Valid() {
		return errors.New("invalid donation source")
	}
	if !d.Provider.Valid() {
		return ErrUnknownProvider
	}
	return nil
}

// MergeMetadata applies the late-bound donor fields to a donation. Non-empty
// incoming values win; empty values never clobber what is already stored.
func MergeMetadata(d Donation, name, note string) Donation {
	if v := strings.TrimSpace(name); v != "" {
		d.Name = v
	}
	if v := strings.TrimSpace(note); v != "" {
		d.Note = v
	}
	return d
}

// TruncateToDay drops the time-of-day component, keeping the location.
// Daily stat buckets are keyed by this value.
func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
