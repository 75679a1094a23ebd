package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Coupon is a single-use percentage discount code.
type Coupon struct {
	ID         int64
	Code       string
	Percentage decimal.Decimal
	Used       bool
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// Rate returns the discount as a fraction of the subtotal (15% → 0.15).
func (c *Coupon) Rate() decimal.Decimal {
	return c.Percentage.Div(hundred)
}

var hundred = decimal.NewFromInt(100)

// Repository provides lookup and mutation of coupons.
//
// FindByCodeForUpdate and GetForUpdate lock the coupon row until the
// enclosing transaction ends. Create returns a conflict error when the code
// already exists.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, id int64) (*Coupon, error)
	GetForUpdate(ctx context.Context, id int64) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByCodeForUpdate(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	MarkUsed(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}
