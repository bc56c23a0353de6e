package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

var ErrDelivery = errors.New("notification not delivered")

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramSender sends plain messages through the bot API.
type TelegramSender struct {
	bot *telego.Bot
}

func NewTelegramSender(bot *telego.Bot) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("chat %d: %w: %v", chatID, ErrDelivery, err)
	}
	return nil
}
