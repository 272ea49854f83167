package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// telegramMaxLen is the Bot API limit for one message.
const telegramMaxLen = 4096

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries uint64
	log        zerolog.Logger
}

// NewTelegram connects to the Bot API and verifies the token.
func NewTelegram(token, chatID string, log zerolog.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: 35 * time.Second}, log)
}

// NewTelegramWithEndpoint is NewTelegram against a custom API endpoint.
func NewTelegramWithEndpoint(token, chatID, endpoint string, client *http.Client, log zerolog.Logger) (*Telegram, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	l := log.With().Str("component", "telegram").Logger()
	l.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
	return &Telegram{bot: bot, chatID: id, maxRetries: 3, log: l}, nil
}

// Send delivers one message, splitting it when it exceeds the API limit.
func (t *Telegram) Send(text string) error {
	for _, part := range split(text, telegramMaxLen) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// Notify sends with exponential backoff until ctx ends or retries run out.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	attempt := 0
	op := func() error {
		attempt++
		err := t.Send(text)
		if err != nil {
			t.log.Warn().Err(err).Int("attempt", attempt).Msg("telegram send failed")
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, t.maxRetries), ctx)); err != nil {
		return fmt.Errorf("all %d attempts exhausted: %w", attempt, err)
	}
	return nil
}

// split cuts text on line boundaries so each part fits in max bytes.
func split(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var parts []string
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > max {
			if b.Len() > 0 {
				parts = append(parts, b.String())
				b.Reset()
			}
			parts = append(parts, line[:max])
			line = line[max:]
		}
		if b.Len()+len(line) > max {
			parts = append(parts, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
