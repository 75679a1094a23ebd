// Package loyalty computes customer tiers from purchase history and persists
// upgrades. Tiers are never downgraded.
package loyalty

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/customer"
)

// Match selects how a threshold's two conditions combine.
type Match string

const (
	// MatchAny grants a tier when either the order count or the spend
	// threshold is reached.
	MatchAny Match = "any"
	// MatchAll grants a tier only when both are reached.
	MatchAll Match = "all"
)

// ParseMatch parses a match mode name.
func ParseMatch(s string) (Match, error) {
	switch m := Match(s); m {
	case MatchAny, MatchAll:
		return m, nil
	default:
		return "", errors.Errorf("unknown loyalty match mode %q", s)
	}
}

// Threshold is the acquisition requirement of one tier.
type Threshold struct {
	Tier   customer.Tier
	Orders int
	Spend  decimal.Decimal
}

// Rules maps purchase history to a tier.
type Rules struct {
	Match Match
	// Thresholds are checked from the highest tier down.
	Thresholds []Threshold
}

// DefaultRules returns the standard acquisition table: SILVER at 3 confirmed
// orders or 1000 spent, GOLD at 10 or 5000, PLATINUM at 20 or 15000.
func DefaultRules() Rules {
	return Rules{
		Match: MatchAny,
		Thresholds: []Threshold{
			{Tier: customer.TierPlatinum, Orders: 20, Spend: decimal.NewFromInt(15000)},
			{Tier: customer.TierGold, Orders: 10, Spend: decimal.NewFromInt(5000)},
			{Tier: customer.TierSilver, Orders: 3, Spend: decimal.NewFromInt(1000)},
		},
	}
}

// Tier returns the tier earned by spend and confirmedOrders.
func (r Rules) Tier(spend decimal.Decimal, confirmedOrders int) customer.Tier {
	for _, t := range r.Thresholds {
		ordersOK := confirmedOrders >= t.Orders
		spendOK := spend.GreaterThanOrEqual(t.Spend)

		var earned bool
		if r.Match == MatchAll {
			earned = ordersOK && spendOK
		} else {
			earned = ordersOK || spendOK
		}
		if earned {
			return t.Tier
		}
	}
	return customer.TierBasic
}

// NeedsUpgrade reports whether the earned tier ranks strictly above current.
func (r Rules) NeedsUpgrade(current customer.Tier, spend decimal.Decimal, confirmedOrders int) bool {
	return r.Tier(spend, confirmedOrders).Above(current)
}
