package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the part of tgbotapi.BotAPI the sender uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts notifications to an operator chat through the Bot API
type TelegramSender struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramSender connects to the Bot API with token
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegramSender(bot, chatID), nil
}

func newTelegramSender(bot botAPI, chatID int64) *TelegramSender {
	return &TelegramSender{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     3,
		retryDelayBase: time.Second,
	}
}

// Name identifies the channel in metrics
func (s *TelegramSender) Name() string { return "telegram" }

// Send posts the event, retrying with linear backoff
func (s *TelegramSender) Send(ctx context.Context, ev *Event) error {
	msg := tgbotapi.NewMessage(s.chatID, formatTelegram(ev))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		_, err := s.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if i == s.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram send cancelled: %w", ctx.Err())
		case <-time.After(s.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("send telegram message after %d attempts: %w", s.maxRetries, lastErr)
}

func formatTelegram(ev *Event) string {
	emoji := "📉"
	if ev.comparator() == ">=" {
		emoji = "📈"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", emoji, escapeMarkdownV2("Price alert triggered"))
	fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(ev.question()))
	fmt.Fprintf(&b, "🎯 %s: *%s* %s\n",
		escapeMarkdownV2(ev.outcome()),
		escapeMarkdownV2(formatPrice(ev.Price)),
		escapeMarkdownV2(fmt.Sprintf("(%s %s)", ev.comparator(), formatPrice(ev.Threshold))))
	fmt.Fprintf(&b, "🆔 `%s`\n", escapeMarkdownV2(ev.AlertID))
	fmt.Fprintf(&b, "📅 %s", escapeMarkdownV2(ev.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	return b.String()
}

// escapeMarkdownV2 escapes the characters Telegram MarkdownV2 reserves
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
