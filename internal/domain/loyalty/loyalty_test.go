package loyalty

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/customer"
)

// --- Mock implementations ---

type mockCustomerRepo struct {
	byID    map[int64]*customer.Customer
	updates int
}

func (m *mockCustomerRepo) Create(_ context.Context, c *customer.Customer) error {
	m.byID[c.ID] = c
	return nil
}

func (m *mockCustomerRepo) Get(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("customer %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockCustomerRepo) List(_ context.Context) ([]customer.Customer, error) {
	return nil, nil
}

func (m *mockCustomerRepo) UpdateTier(_ context.Context, id int64, tier customer.Tier) error {
	m.updates++
	m.byID[id].Tier = tier
	return nil
}

type mockHistory struct {
	spend     decimal.Decimal
	confirmed int
	err       error
}

func (m *mockHistory) LifetimeSpend(_ context.Context, _ int64) (decimal.Decimal, error) {
	return m.spend, m.err
}

func (m *mockHistory) ConfirmedOrderCount(_ context.Context, _ int64) (int, error) {
	return m.confirmed, m.err
}

// --- Tests ---

func TestRules_Tier(t *testing.T) {
	tests := []struct {
		name      string
		match     Match
		spend     int64
		confirmed int
		want      customer.Tier
	}{
		{name: "nothing yet", match: MatchAny, spend: 0, confirmed: 0, want: customer.TierBasic},
		{name: "silver by orders", match: MatchAny, spend: 10, confirmed: 3, want: customer.TierSilver},
		{name: "silver by spend", match: MatchAny, spend: 1000, confirmed: 0, want: customer.TierSilver},
		{name: "gold by spend", match: MatchAny, spend: 5000, confirmed: 1, want: customer.TierGold},
		{name: "platinum by orders", match: MatchAny, spend: 0, confirmed: 20, want: customer.TierPlatinum},
		{name: "all mode needs both", match: MatchAll, spend: 5000, confirmed: 3, want: customer.TierSilver},
		{name: "all mode spend alone", match: MatchAll, spend: 20000, confirmed: 0, want: customer.TierBasic},
		{name: "all mode platinum", match: MatchAll, spend: 15000, confirmed: 20, want: customer.TierPlatinum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := DefaultRules()
			rules.Match = tt.match
			assert.Equal(t, tt.want, rules.Tier(decimal.NewFromInt(tt.spend), tt.confirmed))
		})
	}
}

func TestRules_NeedsUpgrade(t *testing.T) {
	rules := DefaultRules()

	assert.True(t, rules.NeedsUpgrade(customer.TierBasic, decimal.NewFromInt(1000), 0))
	assert.False(t, rules.NeedsUpgrade(customer.TierSilver, decimal.NewFromInt(1000), 0))
	assert.False(t, rules.NeedsUpgrade(customer.TierGold, decimal.NewFromInt(1000), 0))
}

func TestParseMatch(t *testing.T) {
	m, err := ParseMatch("all")
	require.NoError(t, err)
	assert.Equal(t, MatchAll, m)

	_, err = ParseMatch("either")
	require.Error(t, err)
}

func TestEvaluator_UpgradeIfEligible(t *testing.T) {
	customers := &mockCustomerRepo{byID: map[int64]*customer.Customer{
		1: {ID: 1, Tier: customer.TierBasic},
	}}
	history := &mockHistory{spend: decimal.NewFromInt(5200), confirmed: 2}
	ev := NewEvaluator(DefaultRules(), customers, history)

	tier, err := ev.UpgradeIfEligible(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, customer.TierGold, tier)
	assert.Equal(t, customer.TierGold, customers.byID[1].Tier)

	// Idempotent: a second call with the same history writes nothing.
	tier, err = ev.UpgradeIfEligible(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, customer.TierGold, tier)
	assert.Equal(t, 1, customers.updates)
}

func TestEvaluator_NeverDowngrades(t *testing.T) {
	customers := &mockCustomerRepo{byID: map[int64]*customer.Customer{
		1: {ID: 1, Tier: customer.TierPlatinum},
	}}
	ev := NewEvaluator(DefaultRules(), customers, &mockHistory{spend: decimal.Zero})

	tier, err := ev.UpgradeIfEligible(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, customer.TierPlatinum, tier)
	assert.Zero(t, customers.updates)
}

func TestEvaluator_Errors(t *testing.T) {
	customers := &mockCustomerRepo{byID: map[int64]*customer.Customer{
		1: {ID: 1, Tier: customer.TierBasic},
	}}

	t.Run("missing customer", func(t *testing.T) {
		ev := NewEvaluator(DefaultRules(), customers, &mockHistory{})
		_, err := ev.UpgradeIfEligible(context.Background(), 42)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("history failure", func(t *testing.T) {
		ev := NewEvaluator(DefaultRules(), customers, &mockHistory{err: errors.New("db down")})
		_, err := ev.UpgradeIfEligible(context.Background(), 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lifetime spend")
	})
}
