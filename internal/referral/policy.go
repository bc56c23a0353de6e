package referral

// Tier is a threshold on an invited user's balance and the bonus it pays to
// the referrer.
type Tier struct {
	Level     int
	Threshold int64
	Bonus     int64
}

// Policy controls how referral bonuses are paid.
//
// Only the highest tier an invited user has reached is considered on each
// evaluation. With RepeatAwards unset a tier is paid at most once per invited
// user; with it set every evaluation pays again. MaxDepth bounds how many
// referrers a single cascade may climb.
type Policy struct {
	Tiers        []Tier
	MaxDepth     int
	RepeatAwards bool
}

func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{Level: 1, Threshold: 25000, Bonus: 5000},
			{Level: 2, Threshold: 50000, Bonus: 10000},
		},
		MaxDepth: 16,
	}
}

// TierFor returns the highest tier reached by balance.
func (p Policy) TierFor(balance int64) (Tier, bool) {
	var (
		best  Tier
		found bool
	)
	for _, t := range p.Tiers {
		if balance >= t.Threshold && (!found || t.Threshold > best.Threshold) {
			best, found = t, true
		}
	}
	return best, found
}

func (p Policy) normalized() Policy {
	p.Tiers = append([]Tier(nil), p.Tiers...)
	if p.MaxDepth < 1 {
		p.MaxDepth = 1
	}
	return p
}
