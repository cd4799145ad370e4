package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"donat/internal/core"
	"donat/internal/ledger/memory"
	"donat/internal/payment"
	"donat/internal/services"
)

type stubProvider struct {
	kind      core.Provider
	intent    payment.Intent
	intentErr error
}

func (p *stubProvider) Kind() core.Provider { return p.kind }

func (p *stubProvider) CreateIntent(context.Context, core.Money, string) (payment.Intent, error) {
	return p.intent, p.intentErr
}

func (p *stubProvider) CheckStatus(context.Context, string) (payment.StatusResult, error) {
	return payment.StatusResult{Status: payment.IntentPending}, nil
}

func newTestDialog(providers ...payment.Provider) (*Dialog, *SessionStore, *memory.Store) {
	store := memory.New()
	svc := services.NewDonationService(store, payment.NewGateway(providers...), nil)
	sessions := NewSessionStore(30 * time.Minute)
	return NewDialog(svc, sessions), sessions, store
}

func TestFullDonationConversation(t *testing.T) {
	wallet := &stubProvider{
		kind: core.ProviderWallet,
		intent: payment.Intent{
			ProviderID:  "pay_bot",
			RedirectURL: "https://wallet.example/checkout/pay_bot",
			Status:      payment.IntentPending,
		},
	}
	dialog, sessions, store := newTestDialog(wallet)
	ctx := context.Background()

	sess := sessions.Get(42)
	sess.Name = "anna"

	reply := dialog.HandleTurn(ctx, sess, Turn{Text: "/donate"})
	if len(reply.Buttons) == 0 {
		t.Fatal("amount prompt should offer quick amounts")
	}

	sess = sessions.Get(42)
	reply = dialog.HandleTurn(ctx, sess, Turn{Callback: "amount_500"})
	if sess.Step != StepProvider {
		t.Fatalf("step = %s, want provider", sess.Step)
	}

	reply = dialog.HandleTurn(ctx, sess, Turn{Callback: "provider_wallet"})
	if sess.Step != StepNote {
		t.Fatalf("step = %s, want note", sess.Step)
	}

	reply = dialog.HandleTurn(ctx, sess, Turn{Callback: "note_skip"})
	if sess.Step != StepConfirm {
		t.Fatalf("step = %s, want confirm", sess.Step)
	}

	reply = dialog.HandleTurn(ctx, sess, Turn{Callback: "confirm"})
	if reply.Text == "" || len(reply.Buttons) != 0 {
		t.Fatalf("confirmation reply should carry the payment link only: %+v", reply)
	}

	don, err := store.GetByPaymentID(ctx, "pay_bot")
	if err != nil {
		t.Fatal(err)
	}
	if don.Amount.Kopecks != 50000 {
		t.Errorf("amount = %d kopecks, want 50000", don.Amount.Kopecks)
	}
	if don.Source != core.SourceChat {
		t.Errorf("source = %s, want chat", don.Source)
	}
	if don.Provider != core.ProviderWallet {
		t.Errorf("provider = %s, want wallet", don.Provider)
	}
	if don.Name != "anna" {
		t.Errorf("name = %q, want anna", don.Name)
	}

	// The session is back to idle for the next donation.
	if got := sessions.Get(42); got.Step != StepIdle {
		t.Errorf("session step after confirm = %s, want idle", got.Step)
	}
}

func TestCustomAmountAndNote(t *testing.T) {
	wallet := &stubProvider{
		kind:   core.ProviderWallet,
		intent: payment.Intent{ProviderID: "pay_custom", Status: payment.IntentPending},
	}
	dialog, sessions, store := newTestDialog(wallet)
	ctx := context.Background()

	sess := sessions.Get(7)
	dialog.HandleTurn(ctx, sess, Turn{Text: "/donate"})
	dialog.HandleTurn(ctx, sess, Turn{Text: "750"})
	if sess.Amount.Kopecks != 75000 {
		t.Fatalf("custom amount = %d kopecks, want 75000", sess.Amount.Kopecks)
	}
	dialog.HandleTurn(ctx, sess, Turn{Callback: "provider_wallet"})
	dialog.HandleTurn(ctx, sess, Turn{Text: "great stream!"})
	if sess.Note != "great stream!" {
		t.Fatalf("note = %q", sess.Note)
	}
	dialog.HandleTurn(ctx, sess, Turn{Callback: "confirm"})

	don, err := store.GetByPaymentID(ctx, "pay_custom")
	if err != nil {
		t.Fatal(err)
	}
	if don.Note != "great stream!" {
		t.Errorf("stored note = %q", don.Note)
	}
}

func TestInvalidAmountDoesNotAdvance(t *testing.T) {
	dialog, sessions, _ := newTestDialog()
	ctx := context.Background()

	sess := sessions.Get(1)
	dialog.HandleTurn(ctx, sess, Turn{Text: "/donate"})

	for _, input := range []string{"abc", "-5", "9", "100001", "0"} {
		dialog.HandleTurn(ctx, sess, Turn{Text: input})
		if sess.Step != StepAmount {
			t.Fatalf("input %q advanced the step to %s", input, sess.Step)
		}
	}

	// A valid amount still advances afterwards.
	dialog.HandleTurn(ctx, sess, Turn{Text: "100"})
	if sess.Step != StepProvider {
		t.Fatalf("valid amount did not advance, step = %s", sess.Step)
	}
}

func TestInvalidProviderChoiceDoesNotAdvance(t *testing.T) {
	dialog, sessions, _ := newTestDialog()
	ctx := context.Background()

	sess := sessions.Get(2)
	dialog.HandleTurn(ctx, sess, Turn{Text: "/donate"})
	dialog.HandleTurn(ctx, sess, Turn{Callback: "amount_100"})

	dialog.HandleTurn(ctx, sess, Turn{Text: "cash please"})
	if sess.Step != StepProvider {
		t.Fatalf("free text advanced provider step to %s", sess.Step)
	}
}

func TestConcurrentTurnsSameChat(t *testing.T) {
	dialog, sessions, _ := newTestDialog()
	ctx := context.Background()

	sess := sessions.Get(11)
	dialog.HandleTurn(ctx, sess, Turn{Text: "/donate"})

	// Two simultaneous amount entries for the same chat. The turn lock
	// serializes them: one advances to the provider step, the other is a
	// re-prompt there, regardless of order.
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dialog.HandleTurn(ctx, sessions.Get(11), Turn{Text: "500"})
		}()
	}
	close(start)
	wg.Wait()

	got := sessions.Get(11)
	if got.Step != StepProvider {
		t.Fatalf("step after concurrent turns = %s, want provider", got.Step)
	}
	if got.Amount.Kopecks != 50000 {
		t.Fatalf("amount = %d kopecks, want 50000", got.Amount.Kopecks)
	}
}

func TestCancelResetsSession(t *testing.T) {
	dialog, sessions, store := newTestDialog()
	ctx := context.Background()

	sess := sessions.Get(3)
	dialog.HandleTurn(ctx, sess, Turn{Text: "/donate"})
	dialog.HandleTurn(ctx, sess, Turn{Callback: "amount_300"})
	dialog.HandleTurn(ctx, sess, Turn{Callback: "cancel"})

	if got := sessions.Get(3); got.Step != StepIdle || got.Amount.Kopecks != 0 {
		t.Fatalf("cancel left session %+v", got)
	}

	stats, _ := store.Stats(ctx)
	if stats.TotalCount != 0 {
		t.Error("cancelled donation must not reach the ledger")
	}
}

func TestGatewayFailureKeepsConfirmStep(t *testing.T) {
	wallet := &stubProvider{
		kind:      core.ProviderWallet,
		intentErr: &payment.ProviderError{Provider: core.ProviderWallet, Op: "create intent", Err: context.DeadlineExceeded},
	}
	dialog, sessions, store := newTestDialog(wallet)
	ctx := context.Background()

	sess := sessions.Get(4)
	dialog.HandleTurn(ctx, sess, Turn{Text: "/donate"})
	dialog.HandleTurn(ctx, sess, Turn{Callback: "amount_500"})
	dialog.HandleTurn(ctx, sess, Turn{Callback: "provider_wallet"})
	dialog.HandleTurn(ctx, sess, Turn{Callback: "note_skip"})

	reply := dialog.HandleTurn(ctx, sess, Turn{Callback: "confirm"})
	if len(reply.Buttons) == 0 {
		t.Fatal("failure reply should offer a retry")
	}
	if sess.Step != StepConfirm {
		t.Fatalf("step after gateway failure = %s, want confirm", sess.Step)
	}

	// Nothing was recorded.
	if _, err := store.GetByPaymentID(ctx, "pay_bot"); err == nil {
		t.Error("failed initiation must leave no ledger record")
	}
}

func TestSessionExpiry(t *testing.T) {
	sessions := NewSessionStore(30 * time.Minute)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return current }

	sess := sessions.Get(9)
	sess.Step = StepNote
	sess.Amount = core.FromMajor(500)
	sessions.Put(sess)

	// Within the TTL the session survives.
	current = current.Add(10 * time.Minute)
	if got := sessions.Get(9); got.Step != StepNote {
		t.Fatalf("session expired too early, step = %s", got.Step)
	}

	// Past the TTL the chat starts fresh.
	current = current.Add(25 * time.Minute)
	if got := sessions.Get(9); got.Step != StepIdle || got.Amount.Kopecks != 0 {
		t.Fatalf("expired session not reset: %+v", got)
	}
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	sessions := NewSessionStore(30 * time.Minute)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return current }

	sessions.Put(&Session{ChatID: 1, Step: StepAmount})
	sessions.Put(&Session{ChatID: 2, Step: StepNote})

	current = current.Add(31 * time.Minute)
	sessions.Put(&Session{ChatID: 3, Step: StepAmount})

	if removed := sessions.Sweep(); removed != 2 {
		t.Fatalf("swept %d sessions, want 2", removed)
	}
}
