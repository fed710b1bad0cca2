// Package notify holds the reminder delivery transports.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fieldsync/internal/config"
	"fieldsync/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// New builds the transport named by cfg.Transport.
func New(ctx context.Context, cfg config.NotificationsConfig, logger *zerolog.Logger) (domain.Transport, error) {
	switch cfg.Transport {
	case "whatsapp":
		return NewWhatsApp(cfg.WhatsApp), nil
	case "telegram":
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		bot.Debug = cfg.Telegram.Debug
		return NewTelegram(bot), nil
	case "fcm":
		fcm, err := NewFCM(ctx, cfg.FCM)
		if err != nil {
			return nil, err
		}
		return fcm, nil
	case "log", "":
		return NewLogTransport(logger), nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Transport)
	}
}

// FormatText renders a message as plain text for chat transports.
func FormatText(msg domain.Message) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(msg.Body)
	}
	return b.String()
}

// LogTransport writes reminders to the log instead of delivering them.
type LogTransport struct {
	logger *zerolog.Logger
}

func NewLogTransport(logger *zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(_ context.Context, address string, msg domain.Message) error {
	event := t.logger.Info().Str("address", address).Str("title", msg.Title).Str("body", msg.Body)
	keys := make([]string, 0, len(msg.Meta))
	for k := range msg.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		event = event.Str("meta_"+k, msg.Meta[k])
	}
	event.Msg("reminder")
	return nil
}
