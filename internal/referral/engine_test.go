package referral_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cookcoin-bot/internal/metrics"
	"cookcoin-bot/internal/models"
	"cookcoin-bot/internal/referral"
	"cookcoin-bot/internal/store"
	"cookcoin-bot/internal/store/storetest"
)

type fixture struct {
	store   *store.Store
	engine  *referral.Engine
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, policy referral.Policy) *fixture {
	t.Helper()
	s := store.New(storetest.NewDB(t))
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		store:   s,
		engine:  referral.NewEngine(s, policy, m, zap.NewNop()),
		metrics: m,
	}
}

func (f *fixture) user(t *testing.T, id int64, referrer *int64) {
	t.Helper()
	_, err := f.store.Create(context.Background(), store.NewUser{TelegramID: id, ChatID: id, ReferrerID: referrer})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id int64) int64 {
	t.Helper()
	u, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}

func ref(id int64) *int64 { return &id }

func TestCreditWithoutReferrer(t *testing.T) {
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)

	for _, amount := range []int64{1, 99, 25000, 1_000_000} {
		balanceBefore := f.balance(t, 1)
		got, err := f.engine.Credit(context.Background(), 1, amount)
		require.NoError(t, err)
		assert.Equal(t, balanceBefore+amount, got)
	}
}

func TestCreditFreshUserYieldsAmount(t *testing.T) {
	for i, amount := range []int64{1, 5000, 123456} {
		f := newFixture(t, referral.DefaultPolicy())
		id := int64(i + 1)
		f.user(t, id, nil)
		got, err := f.engine.Credit(context.Background(), id, amount)
		require.NoError(t, err)
		assert.Equal(t, amount, got)
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)

	_, err := f.engine.Credit(context.Background(), 1, 0)
	require.ErrorIs(t, err, referral.ErrInvalidAmount)
	_, err = f.engine.Credit(context.Background(), 1, -5)
	require.ErrorIs(t, err, referral.ErrInvalidAmount)
	assert.Equal(t, int64(0), f.balance(t, 1))
}

func TestCreditUnknownUser(t *testing.T) {
	f := newFixture(t, referral.DefaultPolicy())
	_, err := f.engine.Credit(context.Background(), 42, 100)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTierBonusesPaidOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))

	_, err := f.engine.Credit(ctx, 2, 24999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.balance(t, 1))

	_, err = f.engine.Credit(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), f.balance(t, 1))

	_, err = f.engine.Credit(ctx, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), f.balance(t, 1), "tier 1 must not be paid twice")

	_, err = f.engine.Credit(ctx, 2, 24900)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), f.balance(t, 1))

	_, err = f.engine.Credit(ctx, 2, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), f.balance(t, 1))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReferralBonuses.WithLabelValues("1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReferralBonuses.WithLabelValues("2")))
}

func TestJumpStraightToTopTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))

	_, err := f.engine.Credit(ctx, 2, 60000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), f.balance(t, 1))
}

func TestRepeatAwardsReproducesLegacyBehaviour(t *testing.T) {
	ctx := context.Background()
	policy := referral.DefaultPolicy()
	policy.RepeatAwards = true
	f := newFixture(t, policy)
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))

	_, err := f.engine.Credit(ctx, 2, 25000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), f.balance(t, 1))

	_, err = f.engine.Credit(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), f.balance(t, 1))

	_, err = f.engine.Credit(ctx, 2, 25000)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), f.balance(t, 1))
}

func TestEvaluationCoversWholeDownline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))
	f.user(t, 3, ref(1))
	f.user(t, 4, ref(1))

	_, err := f.store.IncrementBalance(ctx, 2, 30000)
	require.NoError(t, err)
	_, err = f.store.IncrementBalance(ctx, 3, 70000)
	require.NoError(t, err)

	require.NoError(t, f.engine.EvaluateReferralBonus(ctx, 1))
	assert.Equal(t, int64(15000), f.balance(t, 1))

	require.NoError(t, f.engine.EvaluateReferralBonus(ctx, 1))
	assert.Equal(t, int64(15000), f.balance(t, 1))
}

func TestCascadeClimbsReferralChain(t *testing.T) {
	ctx := context.Background()
	policy := referral.DefaultPolicy()
	policy.Tiers = []referral.Tier{{Level: 1, Threshold: 100, Bonus: 100}}
	f := newFixture(t, policy)
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))
	f.user(t, 3, ref(2))

	_, err := f.engine.Credit(ctx, 3, 100)
	require.NoError(t, err)

	assert.Equal(t, int64(100), f.balance(t, 3))
	assert.Equal(t, int64(100), f.balance(t, 2))
	assert.Equal(t, int64(100), f.balance(t, 1))
}

func TestCascadeStopsOnCycle(t *testing.T) {
	ctx := context.Background()
	policy := referral.DefaultPolicy()
	policy.Tiers = []referral.Tier{{Level: 1, Threshold: 1, Bonus: 10}}
	policy.RepeatAwards = true
	f := newFixture(t, policy)
	f.user(t, 1, ref(2))
	f.user(t, 2, ref(1))

	_, err := f.engine.Credit(ctx, 1, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(5), f.balance(t, 1))
	assert.Equal(t, int64(10), f.balance(t, 2))
	assert.Positive(t, testutil.ToFloat64(f.metrics.CascadeCuts))
}

func TestCascadeStopsOnSelfReferral(t *testing.T) {
	ctx := context.Background()
	policy := referral.DefaultPolicy()
	policy.RepeatAwards = true
	f := newFixture(t, policy)
	f.user(t, 1, ref(1))

	got, err := f.engine.Credit(ctx, 1, 60000)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), got)
	assert.Equal(t, int64(60000), f.balance(t, 1))
}

func TestCascadeDepthLimit(t *testing.T) {
	ctx := context.Background()
	policy := referral.DefaultPolicy()
	policy.Tiers = []referral.Tier{{Level: 1, Threshold: 1, Bonus: 1}}
	policy.MaxDepth = 2
	f := newFixture(t, policy)
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))
	f.user(t, 3, ref(2))
	f.user(t, 4, ref(3))

	_, err := f.engine.Credit(ctx, 4, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.balance(t, 3))
	assert.Equal(t, int64(1), f.balance(t, 2))
	assert.Equal(t, int64(0), f.balance(t, 1))
}

func TestDanglingReferrerIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 2, ref(999))

	got, err := f.engine.Credit(ctx, 2, 60000)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), got)
}

func TestVerificationBonusOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))

	applied, err := f.engine.AwardVerificationBonus(ctx, 1, 2, 5000)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = f.engine.AwardVerificationBonus(ctx, 1, 2, 5000)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(5000), f.balance(t, 1))

	_, err = f.engine.AwardVerificationBonus(ctx, 77, 2, 5000)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestVerifyCreditsAndCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))
	_, err := f.store.IncrementBalance(ctx, 2, 20000)
	require.NoError(t, err)

	changed, balance, err := f.engine.Verify(ctx, 2, 5000)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(25000), balance)
	assert.Equal(t, int64(5000), f.balance(t, 1), "crossing the first tier pays the referrer")

	changed, _, err = f.engine.Verify(ctx, 2, 5000)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(25000), f.balance(t, 2))

	_, _, err = f.engine.Verify(ctx, 2, 0)
	require.ErrorIs(t, err, referral.ErrInvalidAmount)
	_, _, err = f.engine.Verify(ctx, 404, 5000)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentCreditsLoseNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Credit(ctx, 2, 1000)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n*1000), f.balance(t, 2))
	// Every racing evaluation that saw tier 1 tried to pay it; only one won.
	assert.Equal(t, int64(5000), f.balance(t, 1))
}

func TestBalanceDefaultsToZero(t *testing.T) {
	f := newFixture(t, referral.DefaultPolicy())
	assert.Equal(t, int64(0), f.engine.Balance(context.Background(), 5))

	f.user(t, 5, nil)
	_, err := f.engine.Credit(context.Background(), 5, 70)
	require.NoError(t, err)
	assert.Equal(t, int64(70), f.engine.Balance(context.Background(), 5))
}

type failingReferrals struct {
	*store.Store
}

func (failingReferrals) ListReferrals(context.Context, int64) ([]models.User, error) {
	return nil, errors.New("connection reset")
}

func TestCascadeFailureDoesNotFailCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, referral.DefaultPolicy())
	f.user(t, 1, nil)
	f.user(t, 2, ref(1))

	engine := referral.NewEngine(failingReferrals{f.store}, referral.DefaultPolicy(), f.metrics, zap.NewNop())
	got, err := engine.Credit(ctx, 2, 30000)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), got)
	assert.Equal(t, int64(0), f.balance(t, 1))

	require.Error(t, engine.EvaluateReferralBonus(ctx, 1))
}
