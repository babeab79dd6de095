package services

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/fractalworks/jobsentry/internal/config"
)

// Transport delivers a message on an outbound alert channel. Raw
// transport errors stay behind this boundary; callers only see ok/error
// and the Configured pre-dispatch state.
type Transport interface {
	Send(ctx context.Context, text string) error
	Configured() bool
}

// TelegramTransport sends admin alerts to a fixed chat via the Bot API.
type TelegramTransport struct {
	bot    *tele.Bot
	chatID int64
}

// NewTelegramTransport builds the transport. When the token is absent
// the transport is returned unconfigured rather than failing startup,
// and a bot init error degrades the same way: the caller always gets a
// usable transport, plus the error. Notification health then reports
// NOT_CONFIGURED.
func NewTelegramTransport(cfg *config.TelegramConfig) (*TelegramTransport, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &TelegramTransport{}, nil
	}

	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return &TelegramTransport{}, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramTransport{bot: bot, chatID: cfg.ChatID}, nil
}

// Configured tolerates a nil receiver: a typed-nil transport stored in
// the Transport interface counts as unconfigured, not as a crash.
func (t *TelegramTransport) Configured() bool {
	return t != nil && t.bot != nil && t.chatID != 0
}

func (t *TelegramTransport) Send(ctx context.Context, text string) error {
	if !t.Configured() {
		return fmt.Errorf("telegram transport not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
