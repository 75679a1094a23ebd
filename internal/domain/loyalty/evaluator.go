package loyalty

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/smartshop/internal/domain/customer"
)

// History provides the purchase aggregates tiers are computed from.
type History interface {
	// LifetimeSpend sums every payment across all of the customer's orders.
	LifetimeSpend(ctx context.Context, customerID int64) (decimal.Decimal, error)
	// ConfirmedOrderCount counts the customer's CONFIRMED orders.
	ConfirmedOrderCount(ctx context.Context, customerID int64) (int, error)
}

// Evaluator recomputes and persists customer tiers.
type Evaluator struct {
	rules     Rules
	customers customer.Repository
	history   History
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(rules Rules, customers customer.Repository, history History) *Evaluator {
	return &Evaluator{
		rules:     rules,
		customers: customers,
		history:   history,
	}
}

// UpgradeIfEligible recomputes the tier of customerID and persists it only
// when it is an upgrade. It returns the tier in effect afterwards. Calling it
// repeatedly is safe.
func (e *Evaluator) UpgradeIfEligible(ctx context.Context, customerID int64) (customer.Tier, error) {
	c, err := e.customers.Get(ctx, customerID)
	if err != nil {
		return "", err
	}

	spend, err := e.history.LifetimeSpend(ctx, customerID)
	if err != nil {
		return "", errors.Wrap(err, "lifetime spend")
	}
	confirmed, err := e.history.ConfirmedOrderCount(ctx, customerID)
	if err != nil {
		return "", errors.Wrap(err, "confirmed order count")
	}

	current := c.Tier
	if !current.Valid() {
		current = customer.TierBasic
	}
	if !e.rules.NeedsUpgrade(current, spend, confirmed) {
		return current, nil
	}

	next := e.rules.Tier(spend, confirmed)
	if err := e.customers.UpdateTier(ctx, customerID, next); err != nil {
		return "", errors.Wrap(err, "update tier")
	}

	zctx.From(ctx).Info("Customer tier upgraded",
		zap.Int64("customer_id", customerID),
		zap.String("from", string(current)),
		zap.String("to", string(next)),
		zap.String("spend", spend.StringFixed(2)),
		zap.Int("confirmed_orders", confirmed),
	)
	return next, nil
}
