package referral

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cookcoin-bot/internal/metrics"
	"cookcoin-bot/internal/models"
	"cookcoin-bot/internal/store"
)

var ErrInvalidAmount = errors.New("credit amount must be positive")

// Store is the part of the user ledger the engine needs.
type Store interface {
	Get(ctx context.Context, telegramID int64) (*models.User, error)
	IncrementBalance(ctx context.Context, telegramID int64, delta int64) (int64, error)
	ListReferrals(ctx context.Context, referrerID int64) ([]models.User, error)
	AwardReferralBonus(ctx context.Context, a store.Award) (bool, int64, error)
	VerifyWithBonus(ctx context.Context, telegramID int64, bonus int64) (bool, int64, error)
}

// Engine credits balances and propagates referral bonuses up the referral
// chain. It holds no state of its own; atomicity comes from the store.
type Engine struct {
	store   Store
	policy  Policy
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewEngine(s Store, policy Policy, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		store:   s,
		policy:  policy.normalized(),
		metrics: m,
		log:     log.Named("referral"),
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// path holds the users whose credits led to the current evaluation.
type path []int64

func (p path) contains(id int64) bool {
	for _, v := range p {
		if v == id {
			return true
		}
	}
	return false
}

func (p path) with(id int64) path {
	next := make(path, len(p), len(p)+1)
	copy(next, p)
	return append(next, id)
}

// Credit adds amount to the user's balance and, when the user was referred,
// re-evaluates the referrer's bonuses. Cascade failures are logged and do not
// affect the returned balance.
func (e *Engine) Credit(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit %d to user %d: %w", amount, telegramID, ErrInvalidAmount)
	}
	balance, err := e.store.IncrementBalance(ctx, telegramID, amount)
	if err != nil {
		return 0, fmt.Errorf("credit user %d: %w", telegramID, err)
	}
	e.metrics.ObserveCredit(amount)
	e.log.Debug("balance credited",
		zap.Int64("user", telegramID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance),
	)
	e.cascade(ctx, telegramID, nil)
	return balance, nil
}

// Verify marks the user verified and credits the verification bonus as one
// store transaction, then cascades like Credit. It reports false, without
// paying, if the user was already verified.
func (e *Engine) Verify(ctx context.Context, telegramID int64, bonus int64) (bool, int64, error) {
	if bonus <= 0 {
		return false, 0, fmt.Errorf("verification bonus %d: %w", bonus, ErrInvalidAmount)
	}
	changed, balance, err := e.store.VerifyWithBonus(ctx, telegramID, bonus)
	if err != nil {
		return false, 0, fmt.Errorf("verify user %d: %w", telegramID, err)
	}
	if !changed {
		return false, 0, nil
	}
	e.metrics.ObserveCredit(bonus)
	e.log.Debug("verification bonus credited",
		zap.Int64("user", telegramID),
		zap.Int64("amount", bonus),
		zap.Int64("balance", balance),
	)
	e.cascade(ctx, telegramID, nil)
	return true, balance, nil
}

// AwardVerificationBonus pays the referrer the one-time bonus for an invited
// user passing verification. It reports false if it was already paid.
func (e *Engine) AwardVerificationBonus(ctx context.Context, referrerID, invitedID int64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("verification bonus %d: %w", amount, ErrInvalidAmount)
	}
	award := store.Award{
		ReferrerID:    referrerID,
		InvitedUserID: invitedID,
		Tier:          models.TierVerification,
		Amount:        amount,
		Once:          true,
	}
	applied, err := e.award(ctx, award, path{invitedID})
	if err != nil {
		return false, fmt.Errorf("verification bonus for referrer %d: %w", referrerID, err)
	}
	return applied, nil
}

// EvaluateReferralBonus checks every user invited by referrerID against the
// tier policy and pays what is due.
func (e *Engine) EvaluateReferralBonus(ctx context.Context, referrerID int64) error {
	return e.evaluate(ctx, referrerID, nil)
}

// Balance never fails: an unreadable user reads as zero.
func (e *Engine) Balance(ctx context.Context, telegramID int64) int64 {
	user, err := e.store.Get(ctx, telegramID)
	if err != nil {
		e.log.Warn("balance lookup failed", zap.Int64("user", telegramID), zap.Error(err))
		return 0
	}
	return user.Balance
}

// cascade evaluates the referrer of a user that was just credited.
func (e *Engine) cascade(ctx context.Context, telegramID int64, p path) {
	user, err := e.store.Get(ctx, telegramID)
	if err != nil {
		e.log.Warn("cascade lookup failed", zap.Int64("user", telegramID), zap.Error(err))
		return
	}
	if user.ReferrerID == nil {
		return
	}
	if err := e.evaluate(ctx, *user.ReferrerID, p.with(telegramID)); err != nil {
		e.log.Error("referral evaluation failed",
			zap.Int64("referrer", *user.ReferrerID),
			zap.Int64("trigger", telegramID),
			zap.Error(err),
		)
	}
}

func (e *Engine) evaluate(ctx context.Context, referrerID int64, p path) error {
	if p.contains(referrerID) || len(p) > e.policy.MaxDepth {
		e.metrics.CascadeCuts.Inc()
		e.log.Warn("referral cascade cut",
			zap.Int64("referrer", referrerID),
			zap.Int64s("path", p),
			zap.Int("max_depth", e.policy.MaxDepth),
		)
		return nil
	}

	referrals, err := e.store.ListReferrals(ctx, referrerID)
	if err != nil {
		return err
	}

	for _, invited := range referrals {
		tier, ok := e.policy.TierFor(invited.Balance)
		if !ok {
			continue
		}
		award := store.Award{
			ReferrerID:    referrerID,
			InvitedUserID: invited.TelegramID,
			Tier:          tier.Level,
			Amount:        tier.Bonus,
			Once:          !e.policy.RepeatAwards,
		}
		if _, err := e.award(ctx, award, p); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Dangling referrer: nothing to pay.
				return nil
			}
			e.log.Error("tier bonus failed",
				zap.Int64("referrer", referrerID),
				zap.Int64("invited", invited.TelegramID),
				zap.Int("tier", tier.Level),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Engine) award(ctx context.Context, a store.Award, p path) (bool, error) {
	applied, balance, err := e.store.AwardReferralBonus(ctx, a)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	e.metrics.ObserveReferralBonus(a.Tier, a.Amount)
	e.log.Info("referral bonus paid",
		zap.Int64("referrer", a.ReferrerID),
		zap.Int64("invited", a.InvitedUserID),
		zap.Int("tier", a.Tier),
		zap.Int64("amount", a.Amount),
		zap.Int64("balance", balance),
	)
	e.cascade(ctx, a.ReferrerID, p)
	return true, nil
}
