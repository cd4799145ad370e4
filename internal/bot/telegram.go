package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram drives the dialogue over the Bot API with long polling.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	dialog *Dialog
	store  *SessionStore
}

func NewTelegram(token string, dialog *Dialog, store *SessionStore) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	api.Debug = false

	slog.Info("Telegram bot authorized", "username", api.Self.UserName)

	return &Telegram{
		bot:    api,
		dialog: dialog,
		store:  store,
	}, nil
}

// Run consumes updates until the context is done.
func (t *Telegram) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("updates channel closed")
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		t.store.FillName(msg.Chat.ID, donorName(msg.From))
		sess := t.store.Get(msg.Chat.ID)
		reply := t.dialog.HandleTurn(ctx, sess, Turn{Text: strings.TrimSpace(msg.Text)})
		t.send(ctx, msg.Chat.ID, reply)

	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		// Acknowledge the button press so the client stops its spinner.
		if _, err := t.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			slog.WarnContext(ctx, "Callback ack failed", "error", err)
		}
		if query.Message == nil {
			return
		}
		chatID := query.Message.Chat.ID
		t.store.FillName(chatID, donorName(query.From))
		sess := t.store.Get(chatID)
		reply := t.dialog.HandleTurn(ctx, sess, Turn{Callback: query.Data})
		t.send(ctx, chatID, reply)
	}
}

func (t *Telegram) send(ctx context.Context, chatID int64, reply Reply) {
	if reply.Text == "" {
		return
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.Buttons) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, row := range reply.Buttons {
			var buttons []tgbotapi.InlineKeyboardButton
			for _, b := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
			}
			rows = append(rows, buttons)
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	if _, err := t.bot.Send(msg); err != nil {
		slog.ErrorContext(ctx, "Failed to send message", "chat_id", chatID, "error", err)
	}
}

func donorName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	if user.UserName != "" {
		return user.UserName
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}
