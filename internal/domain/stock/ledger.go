// Package stock owns the authoritative per-product available quantity.
//
// Stock is checked, never held, at order creation. It is decremented only by
// Deduct, which callers invoke from a first-payment commit.
package stock

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/product"
)

// Requirement is a quantity of one product needed by an order.
type Requirement struct {
	ProductID int64
	Quantity  int
}

// Ledger reads and decrements product stock.
type Ledger struct {
	products product.Repository
}

// NewLedger creates a Ledger over the product repository.
func NewLedger(products product.Repository) *Ledger {
	return &Ledger{products: products}
}

// CheckAvailable compares qty against the stock of p without changing it.
func (l *Ledger) CheckAvailable(p *product.Product, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be greater than 0 for product %d", p.ID)
	}
	if p.Stock < qty {
		return apperr.Validation("insufficient stock for product %s: available %d, requested %d",
			p.Name, p.Stock, qty)
	}
	return nil
}

// Satisfiable reports whether live stock currently covers qty of productID.
// A missing product is never satisfiable.
func (l *Ledger) Satisfiable(ctx context.Context, productID int64, qty int) (bool, error) {
	p, err := l.products.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Stock >= qty, nil
}

// Deduct locks the product row and decrements its stock by qty. Stock is
// re-validated here: a shortfall fails with a conflict even if the quantity
// was available when the order was priced.
func (l *Ledger) Deduct(ctx context.Context, productID int64, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be greater than 0 for product %d", productID)
	}

	p, err := l.products.GetForUpdate(ctx, productID)
	if err != nil {
		return err
	}

	left := p.Stock - qty
	if left < 0 {
		return apperr.Conflict("insufficient stock for product %s: available %d, required %d",
			p.Name, p.Stock, qty)
	}
	if err := l.products.SetStock(ctx, productID, left); err != nil {
		return errors.Wrapf(err, "set stock for product %d", productID)
	}

	zctx.From(ctx).Info("Stock deducted",
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int("stock", left),
	)
	return nil
}

// DeductAll deducts every requirement, locking rows in ascending product id
// order so concurrent deductions over overlapping products cannot deadlock.
// Requirements for the same product are merged first.
func (l *Ledger) DeductAll(ctx context.Context, reqs []Requirement) error {
	merged := make(map[int64]int, len(reqs))
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		if _, ok := merged[r.ProductID]; !ok {
			ids = append(ids, r.ProductID)
		}
		merged[r.ProductID] += r.Quantity
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := l.Deduct(ctx, id, merged[id]); err != nil {
			return err
		}
	}
	return nil
}
