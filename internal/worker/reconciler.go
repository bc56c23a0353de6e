package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Referrers interface {
	ListReferrers(ctx context.Context) ([]int64, error)
}

type Evaluator interface {
	EvaluateReferralBonus(ctx context.Context, referrerID int64) error
}

// Reconciler periodically re-evaluates every referrer so tier bonuses missed
// by an interrupted cascade are eventually paid. Evaluation must be
// idempotent for this to be safe.
type Reconciler struct {
	Referrers Referrers
	Evaluator Evaluator
	Interval  time.Duration
	log       *zap.Logger
}

func NewReconciler(r Referrers, e Evaluator, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		Referrers: r,
		Evaluator: e,
		Interval:  interval,
		log:       log.Named("reconciler"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	r.log.Info("referral reconciler started", zap.Duration("interval", r.Interval))

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("referral reconciler stopped")
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep evaluates every referrer once and returns how many succeeded.
func (r *Reconciler) Sweep(ctx context.Context) int {
	ids, err := r.Referrers.ListReferrers(ctx)
	if err != nil {
		r.log.Error("failed to list referrers", zap.Error(err))
		return 0
	}

	ok := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := r.Evaluator.EvaluateReferralBonus(ctx, id); err != nil {
			r.log.Warn("referrer evaluation failed", zap.Int64("referrer", id), zap.Error(err))
			continue
		}
		ok++
	}
	r.log.Debug("reconcile sweep done", zap.Int("referrers", len(ids)), zap.Int("ok", ok))
	return ok
}
