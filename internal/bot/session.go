// Package bot implements the conversational donation flow for Telegram:
// amount, then provider, then an optional note, then confirmation.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"donat/internal/core"
)

// Step is the dialogue position within a chat session.
type Step string

const (
	StepIdle     Step = "idle"
	StepAmount   Step = "amount"
	StepProvider Step = "provider"
	StepNote     Step = "note"
	StepConfirm  Step = "confirm"
)

// Session is the per-chat dialogue state. Draft fields accumulate as the
// donor answers; they are discarded on cancel or expiry.
type Session struct {
	ChatID    int64
	Step      Step
	Name      string
	Amount    core.Money
	Provider  core.Provider
	Note      string
	UpdatedAt time.Time
}

// SessionStore keeps sessions in memory, one per chat. Sessions idle longer
// than the TTL are dropped by the janitor, returning the chat to a clean
// start. Turn handling is serialized per chat through Acquire; the store
// never assumes a single update loop.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	locks    map[int64]*sync.Mutex
	ttl      time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]*Session),
		locks:    make(map[int64]*sync.Mutex),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Acquire takes the chat's turn lock and returns its release func. Holders
// own every Session field for that chat until release; concurrent turns for
// the same chat run one after another.
func (s *SessionStore) Acquire(chatID int64) (release func()) {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// FillName records the donor display name once per chat. A name already
// entered in the dialogue is never overwritten.
func (s *SessionStore) FillName(chatID int64, name string) {
	if name == "" {
		return
	}
	release := s.Acquire(chatID)
	defer release()

	sess := s.Get(chatID)
	if sess.Name == "" {
		sess.Name = name
	}
}

// Get returns the session for a chat, creating an idle one if missing or
// expired.
func (s *SessionStore) Get(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok || s.now().Sub(sess.UpdatedAt) > s.ttl {
		sess = &Session{ChatID: chatID, Step: StepIdle, UpdatedAt: s.now()}
		s.sessions[chatID] = sess
	}
	return sess
}

// Put stores the session, refreshing its idle timer.
func (s *SessionStore) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = s.now()
	s.sessions[sess.ChatID] = sess
}

// Reset returns the chat to idle with all draft fields cleared.
func (s *SessionStore) Reset(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{ChatID: chatID, Step: StepIdle, UpdatedAt: s.now()}
	s.sessions[chatID] = sess
	return sess
}

// Sweep removes expired sessions and reports how many were dropped.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for chatID, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, chatID)
			delete(s.locks, chatID)
			removed++
		}
	}
	return removed
}

// Janitor sweeps expired sessions until the context is done.
func (s *SessionStore) Janitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				slog.Debug("Expired bot sessions removed", "count", removed)
			}
		}
	}
}
