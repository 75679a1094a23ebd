package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/txn"
)

// Ledger validates coupon codes and records their single use.
//
// Consumption sets the used flag; rows are never deleted by consumption.
// Consuming an already used coupon fails with a conflict on every path.
type Ledger struct {
	tx      txn.Manager
	coupons Repository
	now     func() time.Time
}

// NewLedger creates a Ledger backed by the given Repository.
func NewLedger(tx txn.Manager, coupons Repository) *Ledger {
	return &Ledger{tx: tx, coupons: coupons, now: time.Now}
}

// CreateRequest holds the input for issuing a coupon.
type CreateRequest struct {
	Code       string
	Percentage decimal.Decimal
}

// Create issues a new unused coupon.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (*Coupon, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, apperr.Validation("coupon code required")
	}
	if !req.Percentage.IsPositive() || req.Percentage.GreaterThan(hundred) {
		return nil, apperr.Validation("discount percentage must be in (0, 100], got %s", req.Percentage)
	}
	if !req.Percentage.Equal(req.Percentage.Round(2)) {
		return nil, apperr.Validation("discount percentage %s has more than 2 decimal places", req.Percentage)
	}

	c := &Coupon{
		Code:       code,
		Percentage: req.Percentage,
	}
	if err := l.coupons.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	zctx.From(ctx).Info("Coupon created", zap.String("code", c.Code), zap.Int64("coupon_id", c.ID))
	return c, nil
}

// Validate returns the coupon for code if it exists and is unused. It does
// not consume it.
func (l *Ledger) Validate(ctx context.Context, code string) (*Coupon, error) {
	c, err := l.coupons.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.Used {
		return nil, apperr.Conflict("coupon %s has already been used", c.Code)
	}
	return c, nil
}

// Consume marks the coupon with the given id as used. It is the
// payment-triggered path and must run inside the payment transaction.
func (l *Ledger) Consume(ctx context.Context, id int64) error {
	return l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		c, err := l.coupons.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return l.markUsed(ctx, c)
	})
}

// Use marks the coupon with the given code as used. It is the
// administrative path, callable outside any payment.
func (l *Ledger) Use(ctx context.Context, code string) (*Coupon, error) {
	var used *Coupon
	err := l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		c, err := l.coupons.FindByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if err := l.markUsed(ctx, c); err != nil {
			return err
		}
		used = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return used, nil
}

func (l *Ledger) markUsed(ctx context.Context, c *Coupon) error {
	if c.Used {
		return apperr.Conflict("coupon %s has already been used", c.Code)
	}
	now := l.now()
	if err := l.coupons.MarkUsed(ctx, c.ID, now); err != nil {
		return errors.Wrapf(err, "mark coupon %s used", c.Code)
	}
	c.Used = true
	c.UsedAt = &now

	zctx.From(ctx).Info("Coupon used", zap.String("code", c.Code), zap.Int64("coupon_id", c.ID))
	return nil
}

// Get returns a coupon by id.
func (l *Ledger) Get(ctx context.Context, id int64) (*Coupon, error) {
	return l.coupons.Get(ctx, id)
}

// FindByCode returns a coupon by code regardless of its used flag.
func (l *Ledger) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	return l.coupons.FindByCode(ctx, code)
}

// List returns all coupons.
func (l *Ledger) List(ctx context.Context) ([]Coupon, error) {
	return l.coupons.List(ctx)
}

// Delete removes a coupon. Orders that applied it keep their discount.
func (l *Ledger) Delete(ctx context.Context, id int64) error {
	return l.coupons.Delete(ctx, id)
}
