package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fieldsync/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the part of the bot API the transport needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers reminders as bot messages; the address is a chat id.
type Telegram struct {
	bot TelegramSender
}

func NewTelegram(bot TelegramSender) *Telegram {
	return &Telegram{bot: bot}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, address string, msg domain.Message) error {
	chatID, err := parseChatID(address)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, FormatText(msg))); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// parseChatID accepts digits with an optional leading "-" for group chats.
// Phone numbers such as "+5215550001" are rejected.
func parseChatID(address string) (int64, error) {
	s := strings.TrimSpace(address)
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, fmt.Errorf("telegram: address %q is not a chat id", address)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: address %q is not a chat id", address)
	}
	return id, nil
}
