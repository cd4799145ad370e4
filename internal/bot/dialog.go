package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"donat/internal/core"
	"donat/internal/services"
)

// Callback payloads for the inline keyboards.
const (
	callbackAmountPrefix = "amount_"
	callbackWallet       = "provider_wallet"
	callbackCrypto       = "provider_crypto"
	callbackSkipNote     = "note_skip"
	callbackConfirm      = "confirm"
	callbackCancel       = "cancel"
)

// quickAmounts are the preset major-unit choices offered on the first step.
var quickAmounts = []int64{100, 300, 500, 1000, 2000}

// Turn is one incoming user action: either typed text or an inline button
// press.
type Turn struct {
	Text     string
	Callback string
}

// Button is one inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// Reply is what the dialogue wants sent back to the chat.
type Reply struct {
	Text    string
	Buttons [][]Button
}

// Dialog advances donation conversations. It owns no transport; the Telegram
// layer feeds it turns and renders its replies.
type Dialog struct {
	donations *services.DonationService
	store     *SessionStore
}

func NewDialog(donations *services.DonationService, store *SessionStore) *Dialog {
	return &Dialog{donations: donations, store: store}
}

// HandleTurn advances the session by one user action and returns the reply.
// Invalid input never advances the step; the donor is re-prompted in place.
// The chat's turn lock is held for the whole turn, so overlapping updates for
// one chat are applied strictly one after another.
func (d *Dialog) HandleTurn(ctx context.Context, sess *Session, turn Turn) Reply {
	release := d.store.Acquire(sess.ChatID)
	defer release()

	// Re-resolve under the lock; the record may have been reset or expired
	// between lookup and lock acquisition.
	sess = d.store.Get(sess.ChatID)

	if turn.Callback == callbackCancel || strings.EqualFold(turn.Text, "/cancel") {
		d.store.Reset(sess.ChatID)
		return Reply{Text: "Donation cancelled. Send /donate to start over."}
	}

	if strings.HasPrefix(turn.Text, "/") {
		return d.handleCommand(sess, turn.Text)
	}

	switch sess.Step {
	case StepAmount:
		return d.stepAmount(sess, turn)
	case StepProvider:
		return d.stepProvider(sess, turn)
	case StepNote:
		return d.stepNote(sess, turn)
	case StepConfirm:
		return d.stepConfirm(ctx, sess, turn)
	default:
		return Reply{Text: "Send /donate to make a donation or /help for more."}
	}
}

func (d *Dialog) handleCommand(sess *Session, text string) Reply {
	switch strings.Fields(text)[0] {
	case "/start":
		d.store.Reset(sess.ChatID)
		return Reply{Text: "Welcome! Send /donate to support the stream, or /help for the full list of commands."}
	case "/donate":
		sess.Step = StepAmount
		d.store.Put(sess)
		return promptAmount()
	case "/help":
		return Reply{Text: "/donate - make a donation\n/cancel - abandon the current donation\n/help - this message"}
	default:
		return Reply{Text: "Unknown command. Use /help to see available commands."}
	}
}

func promptAmount() Reply {
	var row []Button
	for _, a := range quickAmounts {
		row = append(row, Button{
			Label: fmt.Sprintf("%d", a),
			Data:  fmt.Sprintf("%s%d", callbackAmountPrefix, a),
		})
	}
	return Reply{
		Text: fmt.Sprintf("How much would you like to donate? Pick an amount or type your own (%d to %d).",
			core.MinAmountMajor, core.MaxAmountMajor),
		Buttons: [][]Button{row, {{Label: "Cancel", Data: callbackCancel}}},
	}
}

func (d *Dialog) stepAmount(sess *Session, turn Turn) Reply {
	var (
		amount core.Money
		err    error
	)
	switch {
	case strings.HasPrefix(turn.Callback, callbackAmountPrefix):
		amount, err = core.ParseAmount(strings.TrimPrefix(turn.Callback, callbackAmountPrefix))
	case turn.Text != "":
		amount, err = core.ParseAmount(turn.Text)
	default:
		return promptAmount()
	}

	if err != nil || !amount.InRange() {
		return Reply{Text: fmt.Sprintf("That amount does not work. Enter a number between %d and %d.",
			core.MinAmountMajor, core.MaxAmountMajor)}
	}

	sess.Amount = amount
	sess.Step = StepProvider
	d.store.Put(sess)
	return promptProvider()
}

func promptProvider() Reply {
	return Reply{
		Text: "How would you like to pay?",
		Buttons: [][]Button{
			{{Label: "Wallet", Data: callbackWallet}, {Label: "Crypto", Data: callbackCrypto}},
			{{Label: "Cancel", Data: callbackCancel}},
		},
	}
}

func (d *Dialog) stepProvider(sess *Session, turn Turn) Reply {
	switch turn.Callback {
	case callbackWallet:
		sess.Provider = core.ProviderWallet
	case callbackCrypto:
		sess.Provider = core.ProviderCrypto
	default:
		return promptProvider()
	}

	sess.Step = StepNote
	d.store.Put(sess)
	return Reply{
		Text: "Add a message to go with your donation, or skip.",
		Buttons: [][]Button{
			{{Label: "Skip", Data: callbackSkipNote}},
			{{Label: "Cancel", Data: callbackCancel}},
		},
	}
}

func (d *Dialog) stepNote(sess *Session, turn Turn) Reply {
	switch {
	case turn.Callback == callbackSkipNote:
		sess.Note = ""
	case turn.Text != "":
		sess.Note = strings.TrimSpace(turn.Text)
	default:
		return Reply{
			Text: "Type your message, or skip.",
			Buttons: [][]Button{
				{{Label: "Skip", Data: callbackSkipNote}},
				{{Label: "Cancel", Data: callbackCancel}},
			},
		}
	}

	sess.Step = StepConfirm
	d.store.Put(sess)
	return confirmSummary(sess)
}

func confirmSummary(sess *Session) Reply {
	text := fmt.Sprintf("Donation: %.2f via %s", sess.Amount.Rubles(), sess.Provider)
	if sess.Note != "" {
		text += fmt.Sprintf("\nMessage: %s", sess.Note)
	}
	text += "\n\nConfirm?"
	return Reply{
		Text: text,
		Buttons: [][]Button{
			{{Label: "Confirm", Data: callbackConfirm}, {Label: "Cancel", Data: callbackCancel}},
		},
	}
}

func (d *Dialog) stepConfirm(ctx context.Context, sess *Session, turn Turn) Reply {
	if turn.Callback != callbackConfirm {
		return confirmSummary(sess)
	}

	res, err := d.donations.Initiate(ctx, services.InitiateRequest{
		Amount:   sess.Amount,
		Source:   core.SourceChat,
		Provider: sess.Provider,
		Name:     sess.Name,
		Note:     sess.Note,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Bot donation initiation failed",
			"chat_id", sess.ChatID, "error", err)
		if errors.Is(err, core.ErrAmountOutOfRange) || errors.Is(err, core.ErrInvalidAmount) {
			sess.Step = StepAmount
			d.store.Put(sess)
			return promptAmount()
		}
		// Leave the session at confirm so the donor can retry.
		return Reply{
			Text: "Payment setup failed. Try again?",
			Buttons: [][]Button{
				{{Label: "Confirm", Data: callbackConfirm}, {Label: "Cancel", Data: callbackCancel}},
			},
		}
	}

	d.store.Reset(sess.ChatID)

	text := "Thank you!"
	switch {
	case res.RedirectURL != "":
		text = fmt.Sprintf("Thank you! Complete your payment here:\n%s", res.RedirectURL)
	case res.Donation.CryptoAddress != "":
		text = fmt.Sprintf("Thank you! Send the payment to:\n%s", res.Donation.CryptoAddress)
	}
	return Reply{Text: text}
}
