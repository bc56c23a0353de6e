package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"cookcoin-bot/internal/links"
	"cookcoin-bot/internal/models"
	"cookcoin-bot/internal/onboarding"
)

const callbackCaptcha = "CAPTCHA_PASSED"

// Flow is the onboarding state machine behind the chat commands.
type Flow interface {
	Register(ctx context.Context, r onboarding.Registration) (*models.User, error)
	CompleteVerification(ctx context.Context, telegramID int64) (*onboarding.Verification, error)
	NotifyOnReferralClick(ctx context.Context, referrerID, newUserID int64)
	Profile(ctx context.Context, telegramID int64) (*onboarding.Profile, error)
}

// messenger is the outgoing half of the Bot API used by the handlers.
type messenger interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

type telegoMessenger struct {
	bot *telego.Bot
}

func (m telegoMessenger) SendMessage(ctx context.Context, params *telego.SendMessageParams) error {
	_, err := m.bot.SendMessage(ctx, params)
	return err
}

func (m telegoMessenger) AnswerCallback(ctx context.Context, callbackID string) error {
	return m.bot.AnswerCallbackQuery(ctx, tu.CallbackQuery(callbackID))
}

type Bot struct {
	Instance  *telego.Bot
	Flow      Flow
	Username  string
	WebAppURL string
	out       messenger
	log       *zap.Logger
}

func NewBot(instance *telego.Bot, flow Flow, username, webAppURL string, log *zap.Logger) *Bot {
	return &Bot{
		Instance:  instance,
		Flow:      flow,
		Username:  username,
		WebAppURL: webAppURL,
		out:       telegoMessenger{bot: instance},
		log:       log.Named("bot"),
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.Username == "" {
		me, err := b.Instance.GetMe(ctx)
		if err != nil {
			return fmt.Errorf("failed to get bot info: %w", err)
		}
		b.Username = me.Username
	}

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	handler.Handle(b.handleStart, th.CommandEqual("start"))
	handler.Handle(b.handleCaptcha, th.CallbackDataEqual(callbackCaptcha))
	handler.Handle(b.handleBalance, th.CommandEqual("balance"))
	handler.Handle(b.handleInvite, th.CommandEqual("invite"))

	b.log.Info("bot started", zap.String("username", b.Username))
	return handler.Start()
}

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	if update.Message == nil || update.Message.From == nil {
		return nil
	}
	b.onStart(ctx, update.Message)
	return nil
}

// onStart registers the sender, prompts for verification and tells the
// referrer about the click. The referrer hears about it even when the user
// was already registered.
func (b *Bot) onStart(ctx context.Context, message *telego.Message) {
	telegramID := message.From.ID
	referrerID, hasReferrer := links.ParseStartParam(message.Text)

	reg := onboarding.Registration{
		TelegramID: telegramID,
		Username:   message.From.Username,
		ChatID:     message.Chat.ID,
	}
	if hasReferrer {
		reg.ReferrerID = &referrerID
	}

	if _, err := b.Flow.Register(ctx, reg); err != nil {
		reply := registrationReply(err)
		if reply == textTryLater {
			b.log.Error("registration failed", zap.Int64("user", telegramID), zap.Error(err))
		}
		b.reply(ctx, message.Chat.ID, reply)
	} else {
		keyboard := tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton(textCaptchaButton).WithCallbackData(callbackCaptcha),
			),
		)
		b.send(ctx, tu.Message(tu.ID(message.Chat.ID), textCaptchaPrompt).WithReplyMarkup(keyboard))
	}

	if hasReferrer {
		b.Flow.NotifyOnReferralClick(ctx, referrerID, telegramID)
	}
}

func (b *Bot) handleCaptcha(ctx *th.Context, update telego.Update) error {
	if update.CallbackQuery == nil {
		return nil
	}
	b.onCaptcha(ctx, update.CallbackQuery)
	return nil
}

func (b *Bot) onCaptcha(ctx context.Context, callback *telego.CallbackQuery) {
	telegramID := callback.From.ID
	defer func() {
		if err := b.out.AnswerCallback(ctx, callback.ID); err != nil {
			b.log.Debug("answer callback failed", zap.Error(err))
		}
	}()

	v, err := b.Flow.CompleteVerification(ctx, telegramID)
	if err != nil {
		reply := verificationReply(err)
		if reply == textTryLater {
			b.log.Error("verification failed", zap.Int64("user", telegramID), zap.Error(err))
		}
		b.reply(ctx, telegramID, reply)
		return
	}

	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(textStartNowButton).WithWebApp(&telego.WebAppInfo{
				URL: links.WebAppLink(b.WebAppURL, telegramID, v.Balance),
			}),
			tu.InlineKeyboardButton(textRefLinkButton).WithURL(links.BotLink(b.Username, telegramID)),
		),
	)
	b.send(ctx, tu.Message(tu.ID(telegramID), welcomeText(callback.From.Username)).WithReplyMarkup(keyboard))
}

func (b *Bot) handleBalance(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message.From == nil {
		return nil
	}
	p, err := b.Flow.Profile(ctx, message.From.ID)
	if err != nil {
		b.log.Warn("profile lookup failed", zap.Int64("user", message.From.ID), zap.Error(err))
		b.reply(ctx, message.Chat.ID, profileReply(err))
		return nil
	}
	b.reply(ctx, message.Chat.ID, balanceText(p.User.Balance, p.User.Verified))
	return nil
}

func (b *Bot) handleInvite(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message.From == nil {
		return nil
	}
	p, err := b.Flow.Profile(ctx, message.From.ID)
	if err != nil {
		b.log.Warn("profile lookup failed", zap.Int64("user", message.From.ID), zap.Error(err))
		b.reply(ctx, message.Chat.ID, profileReply(err))
		return nil
	}
	text := inviteText(p.Stats.Invited, p.Stats.Earned, links.BotLink(b.Username, message.From.ID))
	b.send(ctx, tu.Message(tu.ID(message.Chat.ID), text).WithParseMode(telego.ModeMarkdown))
	return nil
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, tu.Message(tu.ID(chatID), text))
}

func (b *Bot) send(ctx context.Context, params *telego.SendMessageParams) {
	if err := b.out.SendMessage(ctx, params); err != nil {
		b.log.Warn("failed to send message", zap.Error(err))
	}
}
