package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cookcoin-bot/internal/metrics"
	"cookcoin-bot/internal/models"
	"cookcoin-bot/internal/relay"
	"cookcoin-bot/internal/store"
)

var (
	ErrAlreadyRegistered = errors.New("already registered")
	ErrAlreadyVerified   = errors.New("already verified")
)

const unknownUserName = "неизвестный пользователь"

type Store interface {
	Create(ctx context.Context, nu store.NewUser) (*models.User, error)
	Get(ctx context.Context, telegramID int64) (*models.User, error)
	ReferralStats(ctx context.Context, referrerID int64) (store.Stats, error)
}

type Engine interface {
	Verify(ctx context.Context, telegramID int64, bonus int64) (bool, int64, error)
	AwardVerificationBonus(ctx context.Context, referrerID, invitedID int64, amount int64) (bool, error)
}

type Config struct {
	VerificationBonus int64
	NotifyDedupTTL    time.Duration
}

// Flow moves users from unknown to registered to verified.
type Flow struct {
	store   Store
	engine  Engine
	sender  relay.Sender
	dedup   relay.Deduper
	metrics *metrics.Metrics
	log     *zap.Logger
	cfg     Config
}

func NewFlow(s Store, e Engine, sender relay.Sender, dedup relay.Deduper, m *metrics.Metrics, log *zap.Logger, cfg Config) *Flow {
	return &Flow{
		store:   s,
		engine:  e,
		sender:  sender,
		dedup:   dedup,
		metrics: m,
		log:     log.Named("onboarding"),
		cfg:     cfg,
	}
}

type Registration struct {
	TelegramID int64
	ReferrerID *int64
	Username   string
	ChatID     int64
}

// Register creates the user unverified with a zero balance. The referrer is
// stored as given, without checking it exists; a self-referral is dropped.
func (f *Flow) Register(ctx context.Context, r Registration) (*models.User, error) {
	referrer := r.ReferrerID
	if referrer != nil && *referrer == r.TelegramID {
		f.log.Info("self-referral ignored", zap.Int64("user", r.TelegramID))
		referrer = nil
	}

	user, err := f.store.Create(ctx, store.NewUser{
		TelegramID: r.TelegramID,
		ReferrerID: referrer,
		Username:   r.Username,
		ChatID:     r.ChatID,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil, fmt.Errorf("user %d: %w", r.TelegramID, ErrAlreadyRegistered)
	}
	if err != nil {
		return nil, err
	}

	f.metrics.Registrations.Inc()
	fields := []zap.Field{zap.Int64("user", r.TelegramID)}
	if referrer != nil {
		fields = append(fields, zap.Int64("referrer", *referrer))
	}
	f.log.Info("user registered", fields...)
	return user, nil
}

// Verification is the result of passing the verification gate.
type Verification struct {
	User    *models.User
	Balance int64
}

// CompleteVerification marks the user verified and pays the verification
// bonus to the user and, if there is one, to the referrer. The flag and the
// user's bonus commit together; only the call that flips the flag pays.
func (f *Flow) CompleteVerification(ctx context.Context, telegramID int64) (*Verification, error) {
	changed, balance, err := f.engine.Verify(ctx, telegramID, f.cfg.VerificationBonus)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("user %d: %w", telegramID, ErrAlreadyVerified)
	}
	f.metrics.Verifications.Inc()

	user, err := f.store.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	f.log.Info("user verified", zap.Int64("user", telegramID), zap.Int64("balance", balance))

	if user.ReferrerID != nil {
		f.rewardReferrer(ctx, *user.ReferrerID, user)
	}
	return &Verification{User: user, Balance: balance}, nil
}

func (f *Flow) rewardReferrer(ctx context.Context, referrerID int64, invited *models.User) {
	applied, err := f.engine.AwardVerificationBonus(ctx, referrerID, invited.TelegramID, f.cfg.VerificationBonus)
	switch {
	case errors.Is(err, store.ErrNotFound):
		f.log.Info("referrer does not exist", zap.Int64("referrer", referrerID), zap.Int64("user", invited.TelegramID))
		return
	case err != nil:
		f.log.Error("referrer bonus failed", zap.Int64("referrer", referrerID), zap.Error(err))
		return
	case !applied:
		return
	}

	referrer, err := f.store.Get(ctx, referrerID)
	if err != nil {
		f.log.Warn("referrer lookup failed", zap.Int64("referrer", referrerID), zap.Error(err))
		return
	}
	f.notify(ctx, referrer.ChatID, fmt.Sprintf(
		"По вашей реферальной ссылке зарегистрировался новый пользователь: %s. Вам начислено %d монет!",
		displayName(invited), f.cfg.VerificationBonus,
	))
}

// NotifyOnReferralClick tells the referrer someone opened their link. It never
// touches balances, and an unknown referrer is only logged.
func (f *Flow) NotifyOnReferralClick(ctx context.Context, referrerID, newUserID int64) {
	if referrerID == newUserID {
		return
	}
	referrer, err := f.store.Get(ctx, referrerID)
	if err != nil {
		f.log.Info("referral link of unknown referrer", zap.Int64("referrer", referrerID), zap.Error(err))
		return
	}

	key := fmt.Sprintf("referral_click:%d:%d", referrerID, newUserID)
	first, err := f.dedup.FirstSeen(ctx, key, f.cfg.NotifyDedupTTL)
	if err != nil {
		f.log.Warn("dedup unavailable, notifying anyway", zap.String("key", key), zap.Error(err))
	} else if !first {
		return
	}

	name := unknownUserName
	if newUser, err := f.store.Get(ctx, newUserID); err == nil {
		name = displayName(newUser)
	}
	f.notify(ctx, referrer.ChatID, fmt.Sprintf(
		"По вашей реферальной ссылке перешёл новый пользователь: %s", name,
	))
}

// Profile is what /balance and /invite show.
type Profile struct {
	User  *models.User
	Stats store.Stats
}

func (f *Flow) Profile(ctx context.Context, telegramID int64) (*Profile, error) {
	user, err := f.store.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	stats, err := f.store.ReferralStats(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: user, Stats: stats}, nil
}

func (f *Flow) notify(ctx context.Context, chatID int64, text string) {
	if err := f.sender.Send(ctx, chatID, text); err != nil {
		f.metrics.NotifyFailures.Inc()
		f.log.Warn("notification failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func displayName(u *models.User) string {
	if name := u.DisplayName(); name != "" {
		return name
	}
	return unknownUserName
}
