// Package memory provides an in-process ledger.Store used in tests and when
// no SQLite path is configured.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"donat/internal/core"
)

type Store struct {
	mu        sync.Mutex
	donations map[int64]core.Donation
	byPayment map[string]int64
	daily     map[time.Time]core.DailyStat
	nextID    int64

	// now is swappable for tests.
	now func() time.Time
}

func New() *Store {
	return &Store{
		donations: make(map[int64]core.Donation),
		byPayment: make(map[string]int64),
		daily:     make(map[time.Time]core.DailyStat),
		nextID:    1,
		now:       time.Now,
	}
}

// WithClock overrides the store's clock. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) CreateDonation(_ context.Context, d core.NewDonation) (core.Donation, error) {
	if err := d.Validate(); err != nil {
		return core.Donation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPayment[d.PaymentID]; exists {
		return core.Donation{}, core.ErrDuplicatePayment
	}

	don := core.Donation{
		ID:            s.nextID,
		PaymentID:     d.PaymentID,
		Amount:        d.Amount,
		Source:        d.Source,
		Provider:      d.Provider,
		Status:        core.StatusPending,
		CryptoAddress: d.CryptoAddress,
		CreatedAt:     s.now(),
	}
	s.nextID++
	s.donations[don.ID] = don
	s.byPayment[don.PaymentID] = don.ID
	return don, nil
}

func (s *Store) GetByPaymentID(_ context.Context, paymentID string) (core.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPayment[paymentID]
	if !ok {
		return core.Donation{}, core.ErrNotFound
	}
	return s.donations[id], nil
}

func (s *Store) AttachMetadata(_ context.Context, id int64, name, note string) (core.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	don, ok := s.donations[id]
	if !ok {
		return core.Donation{}, core.ErrNotFound
	}
	don = core.MergeMetadata(don, name, note)
	s.donations[id] = don
	return don, nil
}

func (s *Store) SetStatus(_ context.Context, id int64, status core.Status) (core.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	don, ok := s.donations[id]
	if !ok {
		return core.Donation{}, core.ErrNotFound
	}
	// Idempotent: same status, or already terminal, leaves the record and
	// the statistics untouched.
	if don.Status == status || don.Status.Terminal() {
		return don, nil
	}

	don.Status = status
	s.donations[id] = don

	if status == core.StatusCompleted {
		s.incrementDailyLocked(don.CreatedAt, don.Amount.Kopecks)
	}
	return don, nil
}

// incrementDailyLocked updates the stat bucket for the donation's creation
// day. Caller holds s.mu.
func (s *Store) incrementDailyLocked(createdAt time.Time, kopecks int64) {
	day := core.TruncateToDay(createdAt)
	stat := s.daily[day]
	stat.Date = day
	stat.TotalAmount += kopecks
	stat.Count++
	s.daily[day] = stat
}

func (s *Store) Stats(_ context.Context) (core.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out core.Stats
	for _, d := range s.donations {
		if d.Status != core.StatusCompleted {
			continue
		}
		out.TotalAmount += d.Amount.Kopecks
		out.TotalCount++
	}
	if out.TotalCount > 0 {
		out.AverageAmount = int64(math.Round(float64(out.TotalAmount) / float64(out.TotalCount)))
	}
	return out, nil
}

func (s *Store) WeeklyStats(_ context.Context) ([]core.DailyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := core.TruncateToDay(s.now())
	weekStart := today.AddDate(0, 0, -6)

	var out []core.DailyStat
	for day, stat := range s.daily {
		if day.Before(weekStart) || day.After(today) {
			continue
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
