package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram posts messages to a single chat through a bot.
type Telegram struct {
	bot    telegramSender
	chatID any
}

func NewTelegram(token, chatID string, opts ...bot.Option) (*Telegram, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: parseChatID(chatID)}, nil
}

// numeric ids are sent as numbers, "@channel" names as strings
func parseChatID(s string) any {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id
	}
	return s
}

func (t *Telegram) Send(ctx context.Context, body string) (string, error) {
	msg, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   body,
	})
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	if msg == nil {
		return "", errors.New("telegram send: empty response")
	}
	return strconv.Itoa(msg.ID), nil
}
