package memory

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/loyalty"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
)

func cloneOrder(o order.Order) order.Order {
	o.Lines = slices.Clone(o.Lines)
	if o.CouponID != nil {
		id := *o.CouponID
		o.CouponID = &id
	}
	return o
}

// Orders implements order.Repository.
type Orders struct{ store *Store }

var _ order.Repository = (*Orders)(nil)

func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	if _, ok := r.store.data.customers[o.CustomerID]; !ok {
		return apperr.NotFound("customer %d not found", o.CustomerID)
	}
	o.ID = r.store.nextID("order")
	o.CreatedAt = r.store.now()
	r.store.data.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (r *Orders) Get(ctx context.Context, id int64) (*order.Order, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	o, ok := r.store.data.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %d not found", id)
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *Orders) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.Get(ctx, id)
}

// Update stores Status and Remaining.
func (r *Orders) Update(ctx context.Context, o *order.Order) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	stored, ok := r.store.data.orders[o.ID]
	if !ok {
		return apperr.NotFound("order %d not found", o.ID)
	}
	stored.Status = o.Status
	stored.Remaining = o.Remaining
	r.store.data.orders[o.ID] = stored
	return nil
}

func (r *Orders) list(ctx context.Context, keep func(o order.Order) bool) []order.Order {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	var out []order.Order
	for _, o := range sortedValues(r.store.data.orders) {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

func (r *Orders) List(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, func(order.Order) bool { return true }), nil
}

func (r *Orders) ListByCustomer(ctx context.Context, customerID int64) ([]order.Order, error) {
	return r.list(ctx, func(o order.Order) bool { return o.CustomerID == customerID }), nil
}

func (r *Orders) ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	return r.list(ctx, func(o order.Order) bool { return o.Status == status }), nil
}

// Payments implements payment.Repository.
type Payments struct{ store *Store }

var _ payment.Repository = (*Payments)(nil)

func (r *Payments) Create(ctx context.Context, p *payment.Payment) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	if _, ok := r.store.data.orders[p.OrderID]; !ok {
		return apperr.NotFound("order %d not found", p.OrderID)
	}
	for _, existing := range r.store.data.payments {
		if existing.OrderID == p.OrderID && existing.Number == p.Number {
			return apperr.Conflict("payment #%d of order %d already exists", p.Number, p.OrderID)
		}
	}
	p.ID = r.store.nextID("payment")
	p.CreatedAt = r.store.now()
	r.store.data.payments[p.ID] = *p
	return nil
}

func (r *Payments) Get(ctx context.Context, id int64) (*payment.Payment, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	p, ok := r.store.data.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment %d not found", id)
	}
	return &p, nil
}

func (r *Payments) byOrder(orderID int64) []payment.Payment {
	var out []payment.Payment
	for _, p := range r.store.data.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b payment.Payment) int { return a.Number - b.Number })
	return out
}

func (r *Payments) ListByOrder(ctx context.Context, orderID int64) ([]payment.Payment, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	return r.byOrder(orderID), nil
}

func (r *Payments) CountByOrder(ctx context.Context, orderID int64) (int, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	return len(r.byOrder(orderID)), nil
}

func (r *Payments) List(ctx context.Context) ([]payment.Payment, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	return sortedValues(r.store.data.payments), nil
}

// Update stores the bookkeeping fields.
func (r *Payments) Update(ctx context.Context, p *payment.Payment) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	stored, ok := r.store.data.payments[p.ID]
	if !ok {
		return apperr.NotFound("payment %d not found", p.ID)
	}
	stored.Status = p.Status
	stored.Reference = p.Reference
	stored.BankName = p.BankName
	stored.CollectedAt = p.CollectedAt
	stored.DueDate = p.DueDate
	r.store.data.payments[p.ID] = stored
	return nil
}

func (r *Payments) Delete(ctx context.Context, id int64) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	if _, ok := r.store.data.payments[id]; !ok {
		return apperr.NotFound("payment %d not found", id)
	}
	delete(r.store.data.payments, id)
	return nil
}

// History implements loyalty.History over the stored orders and payments.
type History struct{ store *Store }

var _ loyalty.History = (*History)(nil)

func (h *History) LifetimeSpend(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	h.store.rlock(ctx)
	defer h.store.runlock(ctx)
	total := decimal.Zero
	for _, p := range h.store.data.payments {
		if o, ok := h.store.data.orders[p.OrderID]; ok && o.CustomerID == customerID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (h *History) ConfirmedOrderCount(ctx context.Context, customerID int64) (int, error) {
	h.store.rlock(ctx)
	defer h.store.runlock(ctx)
	n := 0
	for _, o := range h.store.data.orders {
		if o.CustomerID == customerID && o.Status == order.StatusConfirmed {
			n++
		}
	}
	return n, nil
}
