package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/product"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestProduct(id int64, price string, stock int) product.Product {
	return product.Product{
		ID:    id,
		Name:  "product",
		Price: d(price),
		Stock: stock,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func TestQuote(t *testing.T) {
	tests := []struct {
		name         string
		lines        []Line
		tier         customer.Tier
		coupon       string
		wantSubtotal string
		wantLoyalty  string
		wantCoupon   string
		wantTax      string
		wantTotal    string
	}{
		{
			name:         "basic customer two units no coupon",
			lines:        []Line{{Product: newTestProduct(1, "100.00", 10), Quantity: 2}},
			tier:         customer.TierBasic,
			coupon:       "0",
			wantSubtotal: "200.00",
			wantLoyalty:  "0",
			wantCoupon:   "0",
			wantTax:      "40.00",
			wantTotal:    "240.00",
		},
		{
			name: "silver below threshold gets no loyalty discount",
			lines: []Line{
				{Product: newTestProduct(1, "100.00", 10), Quantity: 4},
				{Product: newTestProduct(2, "99.99", 10), Quantity: 1},
			},
			tier:         customer.TierSilver,
			coupon:       "0",
			wantSubtotal: "499.99",
			wantLoyalty:  "0",
			wantCoupon:   "0",
			wantTax:      "100.00",
			wantTotal:    "599.99",
		},
		{
			name:         "silver at threshold gets 5%",
			lines:        []Line{{Product: newTestProduct(1, "250.00", 10), Quantity: 2}},
			tier:         customer.TierSilver,
			coupon:       "0",
			wantSubtotal: "500.00",
			wantLoyalty:  "25.00",
			wantCoupon:   "0",
			wantTax:      "95.00",
			wantTotal:    "570.00",
		},
		{
			name:         "gold with coupon discounts are additive",
			lines:        []Line{{Product: newTestProduct(1, "1000.00", 5), Quantity: 1}},
			tier:         customer.TierGold,
			coupon:       "10",
			wantSubtotal: "1000.00",
			wantLoyalty:  "100.00",
			wantCoupon:   "100.00",
			wantTax:      "160.00",
			wantTotal:    "960.00",
		},
		{
			name:         "platinum below its threshold gets nothing",
			lines:        []Line{{Product: newTestProduct(1, "1000.00", 5), Quantity: 1}},
			tier:         customer.TierPlatinum,
			coupon:       "0",
			wantSubtotal: "1000.00",
			wantLoyalty:  "0",
			wantCoupon:   "0",
			wantTax:      "200.00",
			wantTotal:    "1200.00",
		},
		{
			name:         "tax rounds half up",
			lines:        []Line{{Product: newTestProduct(1, "10.01", 5), Quantity: 1}},
			tier:         customer.TierBasic,
			coupon:       "33.33",
			wantSubtotal: "10.01",
			wantLoyalty:  "0",
			// 10.01 * 33.33 / 100 = 3.336333 -> 3.34
			wantCoupon: "3.34",
			// (10.01 - 3.34) * 0.20 = 1.334 -> 1.33
			wantTax:   "1.33",
			wantTotal: "8.00",
		},
		{
			name:         "full coupon on platinum is capped at subtotal",
			lines:        []Line{{Product: newTestProduct(1, "1500.00", 1), Quantity: 1}},
			tier:         customer.TierPlatinum,
			coupon:       "100",
			wantSubtotal: "1500.00",
			wantLoyalty:  "225.00",
			wantCoupon:   "1275.00",
			wantTax:      "0",
			wantTotal:    "0",
		},
	}

	calc := NewCalculator(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := calc.Quote(tt.lines, tt.tier, d(tt.coupon))
			require.NoError(t, err)

			assertDecimal(t, tt.wantSubtotal, q.Subtotal, "subtotal")
			assertDecimal(t, tt.wantLoyalty, q.LoyaltyDiscount, "loyalty discount")
			assertDecimal(t, tt.wantCoupon, q.CouponDiscount, "coupon discount")
			assertDecimal(t, tt.wantTax, q.Tax, "tax")
			assertDecimal(t, tt.wantTotal, q.Total, "total")

			// total = subtotal - discounts + tax
			assert.True(t, q.Subtotal.Sub(q.Discount()).Add(q.Tax).Equal(q.Total))
		})
	}
}

func TestQuote_LineTotals(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	q, err := calc.Quote([]Line{
		{Product: newTestProduct(1, "12.50", 10), Quantity: 3},
		{Product: newTestProduct(2, "0.99", 10), Quantity: 7},
	}, customer.TierBasic, decimal.Zero)
	require.NoError(t, err)

	require.Len(t, q.Lines, 2)
	assertDecimal(t, "37.50", q.Lines[0].Total, "line 1")
	assertDecimal(t, "6.93", q.Lines[1].Total, "line 2")
	assertDecimal(t, "44.43", q.Subtotal, "subtotal")
}

func TestQuote_Errors(t *testing.T) {
	deleted := newTestProduct(3, "10.00", 10)
	deleted.Deleted = true

	tests := []struct {
		name  string
		lines []Line
	}{
		{name: "empty lines", lines: nil},
		{name: "zero quantity", lines: []Line{{Product: newTestProduct(1, "10.00", 10), Quantity: 0}}},
		{name: "over stock", lines: []Line{{Product: newTestProduct(1, "10.00", 2), Quantity: 3}}},
		{name: "deleted product", lines: []Line{{Product: deleted, Quantity: 1}}},
	}

	calc := NewCalculator(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Quote(tt.lines, customer.TierBasic, decimal.Zero)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestLoyaltyRate(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	assert.True(t, calc.LoyaltyRate(customer.TierBasic, d("100000")).IsZero())
	assert.True(t, d("0.05").Equal(calc.LoyaltyRate(customer.TierSilver, d("500"))))
	assert.True(t, calc.LoyaltyRate(customer.TierGold, d("799.99")).IsZero())
	assert.True(t, d("0.10").Equal(calc.LoyaltyRate(customer.TierGold, d("800"))))
	assert.True(t, d("0.15").Equal(calc.LoyaltyRate(customer.TierPlatinum, d("1200"))))
}
