package bot

import (
	"errors"
	"fmt"

	"cookcoin-bot/internal/onboarding"
	"cookcoin-bot/internal/store"
)

const (
	textCaptchaPrompt     = "Пожалуйста, подтвердите, что вы не робот, нажав на кнопку ниже."
	textCaptchaButton     = "Я не робот"
	textAlreadyRegistered = "Вы уже зарегистрированы."
	textAlreadyVerified   = "Вы уже прошли капчу."
	textNotRegistered     = "Вы ещё не зарегистрированы. Отправьте /start."
	textTryLater          = "Произошла ошибка при обработке команды. Попробуйте позже."
	textStartNowButton    = "👋Start Now!"
	textRefLinkButton     = "🔥Ref Link!"
)

func welcomeText(username string) string {
	if username == "" {
		username = "пользователь"
	}
	return fmt.Sprintf("Hello, @%s! Welcome to COOKCOIN!\n"+
		"Click on - Start Now! And start earning coins\n\n"+
		"COOKCOIN - plans to list at the end of the whole story, I also advise you to look at the roadmap\n\n"+
		"Have friends, relatives, colleagues?\n"+
		"Bring them all into the game and unlock daily bonuses and the wheel of fortune\n"+
		"More friends, more coins.", username)
}

func balanceText(balance int64, verified bool) string {
	msg := fmt.Sprintf("💰 Ваш баланс: %d монет", balance)
	if !verified {
		msg += "\n\n⚠️ Пройдите проверку, чтобы получить бонус."
	}
	return msg
}

func inviteText(invited, earned int64, link string) string {
	return fmt.Sprintf("🤝 *Партнерская программа*\n\n"+
		"Приглашай друзей и получай бонусы!\n\n"+
		"👥 Приглашено: %d\n"+
		"💰 Заработано: %d монет\n\n"+
		"🔗 *Твоя ссылка:*\n`%s`", invited, earned, link)
}

// registrationReply maps a failed registration to the user-facing reply.
func registrationReply(err error) string {
	if errors.Is(err, onboarding.ErrAlreadyRegistered) {
		return textAlreadyRegistered
	}
	return textTryLater
}

// verificationReply maps a failed verification to the user-facing reply.
func verificationReply(err error) string {
	switch {
	case errors.Is(err, onboarding.ErrAlreadyVerified):
		return textAlreadyVerified
	case errors.Is(err, store.ErrNotFound):
		return textNotRegistered
	default:
		return textTryLater
	}
}

func profileReply(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return textNotRegistered
	}
	return textTryLater
}
