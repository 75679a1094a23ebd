// Package pricing computes the monetary breakdown of a candidate order.
//
// All arithmetic is decimal. Loyalty and coupon discounts are both taken on
// the subtotal and added, never compounded. Tax applies to the discounted
// subtotal. Amounts are rounded half-up to cents.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/product"
)

var hundred = decimal.NewFromInt(100)

// LoyaltyDiscount grants Rate of the subtotal to a tier once the subtotal
// reaches Threshold.
type LoyaltyDiscount struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
}

// Config holds the static pricing tables.
type Config struct {
	// TaxRate is applied to the discounted subtotal (0.20 for 20%).
	TaxRate decimal.Decimal
	// Loyalty maps a tier to its discount. Tiers without an entry get none.
	Loyalty map[customer.Tier]LoyaltyDiscount
}

// DefaultConfig returns the standard tax rate and loyalty table.
func DefaultConfig() Config {
	return Config{
		TaxRate: decimal.RequireFromString("0.20"),
		Loyalty: map[customer.Tier]LoyaltyDiscount{
			customer.TierSilver: {
				Threshold: decimal.NewFromInt(500),
				Rate:      decimal.RequireFromString("0.05"),
			},
			customer.TierGold: {
				Threshold: decimal.NewFromInt(800),
				Rate:      decimal.RequireFromString("0.10"),
			},
			customer.TierPlatinum: {
				Threshold: decimal.NewFromInt(1200),
				Rate:      decimal.RequireFromString("0.15"),
			},
		},
	}
}

// Line is one (product, quantity) pair of a candidate order.
type Line struct {
	Product  product.Product
	Quantity int
}

// PricedLine is a line with its computed total.
type PricedLine struct {
	Line
	Total decimal.Decimal
}

// Quote is the priced breakdown of an order.
type Quote struct {
	Lines           []PricedLine
	Subtotal        decimal.Decimal
	LoyaltyDiscount decimal.Decimal
	CouponDiscount  decimal.Decimal
	TaxRate         decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
}

// Discount returns the combined loyalty and coupon discount.
func (q Quote) Discount() decimal.Decimal {
	return q.LoyaltyDiscount.Add(q.CouponDiscount)
}

// Net returns the discounted subtotal the tax is computed on.
func (q Quote) Net() decimal.Decimal {
	return q.Subtotal.Sub(q.Discount())
}

// Calculator prices orders. It has no side effects.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator with the given tables.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// LoyaltyRate returns the loyalty discount rate a tier earns on subtotal.
func (c *Calculator) LoyaltyRate(tier customer.Tier, subtotal decimal.Decimal) decimal.Decimal {
	d, ok := c.cfg.Loyalty[tier]
	if !ok || subtotal.LessThan(d.Threshold) {
		return decimal.Zero
	}
	return d.Rate
}

// Quote prices lines for a customer of the given tier. couponPercentage is
// the coupon discount in percent, zero when no coupon applies.
//
// It fails with a validation error when lines is empty, a product is
// soft-deleted, a quantity is not positive, or a quantity exceeds the stock
// seen on the product.
func (c *Calculator) Quote(lines []Line, tier customer.Tier, couponPercentage decimal.Decimal) (*Quote, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}
	if couponPercentage.IsNegative() || couponPercentage.GreaterThan(hundred) {
		return nil, apperr.Validation("coupon percentage must be within [0, 100]")
	}

	q := &Quote{
		Lines:    make([]PricedLine, len(lines)),
		Subtotal: decimal.Zero,
		TaxRate:  c.cfg.TaxRate,
	}
	for i, l := range lines {
		if l.Product.Deleted {
			return nil, apperr.Validation("product %d is not available", l.Product.ID)
		}
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity must be greater than 0 for product %d", l.Product.ID)
		}
		if l.Quantity > l.Product.Stock {
			return nil, apperr.Validation("insufficient stock for product %s: available %d, requested %d",
				l.Product.Name, l.Product.Stock, l.Quantity)
		}

		total := l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		q.Lines[i] = PricedLine{Line: l, Total: total}
		q.Subtotal = q.Subtotal.Add(total)
	}

	q.LoyaltyDiscount = q.Subtotal.Mul(c.LoyaltyRate(tier, q.Subtotal)).Round(2)
	q.CouponDiscount = q.Subtotal.Mul(couponPercentage).Div(hundred).Round(2)

	// Both discounts are fractions of the same subtotal; together they can
	// exceed it only when the rates sum above 100%.
	if excess := q.Discount().Sub(q.Subtotal); excess.IsPositive() {
		q.CouponDiscount = q.CouponDiscount.Sub(excess)
	}

	q.Tax = q.Net().Mul(c.cfg.TaxRate).Round(2)
	q.Total = q.Net().Add(q.Tax).Round(2)
	return q, nil
}
