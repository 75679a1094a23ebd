package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID       int64
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int
	Deleted  bool
}

// Repository defines persistence operations for the product catalog.
//
// GetForUpdate locks the product row until the enclosing transaction ends.
// SetStock is only called by the stock ledger.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	Get(ctx context.Context, id int64) (*Product, error)
	GetForUpdate(ctx context.Context, id int64) (*Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
	List(ctx context.Context, includeDeleted bool) ([]Product, error)
	Update(ctx context.Context, p *Product) error
	SetStock(ctx context.Context, id int64, stock int) error
}
