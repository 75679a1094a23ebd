package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/smartshop/internal/domain/order"
)

// StockChecker reports whether live stock covers a quantity.
type StockChecker interface {
	Satisfiable(ctx context.Context, productID int64, qty int) (bool, error)
}

// Reconciler rejects unpaid PENDING orders that current stock can no longer
// supply. It holds no state and runs inside the caller's transaction.
type Reconciler struct {
	orders   order.Repository
	payments Repository
	stock    StockChecker
}

// NewReconciler creates a Reconciler.
func NewReconciler(orders order.Repository, payments Repository, stock StockChecker) *Reconciler {
	return &Reconciler{
		orders:   orders,
		payments: payments,
		stock:    stock,
	}
}

// Sweep walks every PENDING order except excludeOrderID. Orders with at least
// one payment keep their claim on stock and are skipped. Any other order with
// a line that live stock cannot cover, or whose product is gone, is moved to
// REJECTED. It returns the ids of rejected orders.
func (r *Reconciler) Sweep(ctx context.Context, excludeOrderID int64) ([]int64, error) {
	pending, err := r.orders.ListByStatus(ctx, order.StatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "list pending orders")
	}

	lg := zctx.From(ctx)
	var rejected []int64
	for i := range pending {
		o := &pending[i]
		if o.ID == excludeOrderID {
			continue
		}

		paid, err := r.payments.CountByOrder(ctx, o.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "count payments of order %d", o.ID)
		}
		if paid > 0 {
			continue
		}

		short, err := r.shortLine(ctx, o)
		if err != nil {
			return nil, err
		}
		if short == nil {
			continue
		}

		if err := o.TransitionTo(order.StatusRejected); err != nil {
			return nil, err
		}
		if err := r.orders.Update(ctx, o); err != nil {
			return nil, errors.Wrapf(err, "reject order %d", o.ID)
		}
		rejected = append(rejected, o.ID)

		lg.Info("Order rejected for insufficient stock",
			zap.Int64("order_id", o.ID),
			zap.Int64("product_id", short.ProductID),
			zap.Int("required", short.Quantity),
		)
	}
	return rejected, nil
}

// shortLine returns the first line of o that stock cannot cover, or nil.
func (r *Reconciler) shortLine(ctx context.Context, o *order.Order) (*order.Line, error) {
	for i := range o.Lines {
		l := &o.Lines[i]
		ok, err := r.stock.Satisfiable(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "check stock of product %d", l.ProductID)
		}
		if !ok {
			return l, nil
		}
	}
	return nil, nil
}
