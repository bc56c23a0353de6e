package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cookcoin"

// Metrics groups the counters exported on /metrics.
type Metrics struct {
	Registrations   prometheus.Counter
	Verifications   prometheus.Counter
	Credits         prometheus.Counter
	CoinsCredited   prometheus.Counter
	ReferralBonuses *prometheus.CounterVec
	CascadeCuts     prometheus.Counter
	NotifyFailures  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Users created through /start.",
		}),
		Verifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Users that passed the verification gate.",
		}),
		Credits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_total",
			Help:      "Balance credits applied, referral bonuses included.",
		}),
		CoinsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coins_credited_total",
			Help:      "Coins added to balances.",
		}),
		ReferralBonuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_bonuses_total",
			Help:      "Referral bonuses paid, by tier (0 is the verification bonus).",
		}, []string{"tier"}),
		CascadeCuts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_cuts_total",
			Help:      "Cascades stopped by the cycle or depth guard.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notifications that could not be delivered.",
		}),
	}
	reg.MustRegister(
		m.Registrations,
		m.Verifications,
		m.Credits,
		m.CoinsCredited,
		m.ReferralBonuses,
		m.CascadeCuts,
		m.NotifyFailures,
	)
	return m
}

func (m *Metrics) ObserveCredit(amount int64) {
	m.Credits.Inc()
	m.CoinsCredited.Add(float64(amount))
}

func (m *Metrics) ObserveReferralBonus(tier int, amount int64) {
	m.ReferralBonuses.WithLabelValues(strconv.Itoa(tier)).Inc()
	m.ObserveCredit(amount)
}
