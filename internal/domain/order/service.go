package order

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/pricing"
	"github.com/xenking/smartshop/internal/domain/product"
	"github.com/xenking/smartshop/internal/domain/txn"
)

// recentOrders is the number of orders reported by Statistics.
const recentOrders = 5

// Item is one requested (product, quantity) pair.
type Item struct {
	ProductID int64
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	CustomerID int64
	Items      []Item
	CouponCode string
}

// CouponValidator checks that a coupon code can be applied without using it.
type CouponValidator interface {
	Validate(ctx context.Context, code string) (*coupon.Coupon, error)
}

// TierUpgrader recomputes a customer's loyalty tier.
type TierUpgrader interface {
	UpgradeIfEligible(ctx context.Context, customerID int64) (customer.Tier, error)
}

// Service owns the order lifecycle: creation, confirmation and cancellation.
type Service struct {
	tx        txn.Manager
	orders    Repository
	customers customer.Repository
	products  product.Repository
	coupons   CouponValidator
	pricing   *pricing.Calculator
	loyalty   TierUpgrader
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	tx txn.Manager,
	orders Repository,
	customers customer.Repository,
	products product.Repository,
	coupons CouponValidator,
	calc *pricing.Calculator,
	loyalty TierUpgrader,
) *Service {
	return &Service{
		tx:        tx,
		orders:    orders,
		customers: customers,
		products:  products,
		coupons:   coupons,
		pricing:   calc,
		loyalty:   loyalty,
	}
}

// Create prices the requested items for the customer, validates the coupon
// without using it, and stores a PENDING order whose remaining balance equals
// its total. Stock is checked but not held.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	items, err := mergeItems(req.Items)
	if err != nil {
		return nil, err
	}

	var created *Order
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		c, err := s.customers.Get(ctx, req.CustomerID)
		if err != nil {
			return err
		}

		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ProductID
		}
		fetched, err := s.products.GetByIDs(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "get products")
		}
		byID := make(map[int64]product.Product, len(fetched))
		for _, p := range fetched {
			byID[p.ID] = p
		}

		lines := make([]pricing.Line, len(items))
		for i, item := range items {
			p, ok := byID[item.ProductID]
			if !ok {
				return apperr.NotFound("product %d not found", item.ProductID)
			}
			lines[i] = pricing.Line{Product: p, Quantity: item.Quantity}
		}

		var (
			cp         *coupon.Coupon
			percentage = decimal.Zero
		)
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			cp, err = s.coupons.Validate(ctx, code)
			if err != nil {
				return err
			}
			percentage = cp.Percentage
		}

		q, err := s.pricing.Quote(lines, c.Tier, percentage)
		if err != nil {
			return err
		}

		o := newOrder(c.ID, q)
		if cp != nil {
			id := cp.ID
			o.CouponID = &id
			o.CouponCode = cp.Code
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order created",
		zap.Int64("order_id", created.ID),
		zap.Int64("customer_id", created.CustomerID),
		zap.String("total", created.Total.StringFixed(2)),
		zap.Int("lines", len(created.Lines)),
	)
	return created, nil
}

// Confirm moves a partially or fully paid PENDING order to CONFIRMED and
// re-evaluates the customer's loyalty tier.
func (s *Service) Confirm(ctx context.Context, id int64) (*Order, error) {
	var confirmed *Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return apperr.State("order %d is %s, only PENDING orders can be confirmed", o.ID, o.Status)
		}
		if !o.HasPayments() {
			return apperr.State("order %d has no payment and cannot be confirmed", o.ID)
		}
		if err := o.TransitionTo(StatusConfirmed); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		if _, err := s.loyalty.UpgradeIfEligible(ctx, o.CustomerID); err != nil {
			return errors.Wrap(err, "upgrade loyalty tier")
		}
		confirmed = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order confirmed",
		zap.Int64("order_id", confirmed.ID),
		zap.String("remaining", confirmed.Remaining.StringFixed(2)),
	)
	return confirmed, nil
}

// Cancel moves an unpaid PENDING order to CANCELED.
func (s *Service) Cancel(ctx context.Context, id int64) (*Order, error) {
	var canceled *Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return apperr.State("order %d is %s, only PENDING orders can be canceled", o.ID, o.Status)
		}
		if o.HasPayments() {
			return apperr.State("order %d has payments and cannot be canceled", o.ID)
		}
		if err := o.TransitionTo(StatusCanceled); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		canceled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order canceled", zap.Int64("order_id", canceled.ID))
	return canceled, nil
}

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// List returns all orders.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.orders.List(ctx)
}

// ListByCustomer returns the orders of an existing customer.
func (s *Service) ListByCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	if _, err := s.customers.Get(ctx, customerID); err != nil {
		return nil, err
	}
	return s.orders.ListByCustomer(ctx, customerID)
}

// Statistics summarizes a customer's purchase history.
type Statistics struct {
	CustomerID  int64
	Tier        customer.Tier
	TotalOrders int
	// TotalSpent is the sum of every payment across the customer's orders.
	TotalSpent decimal.Decimal
	// TotalRemaining is the unpaid balance of PENDING and CONFIRMED orders.
	TotalRemaining decimal.Decimal
	ByStatus       map[Status]int
	FirstOrderAt   *time.Time
	LastOrderAt    *time.Time
	// Recent holds the latest orders, newest first.
	Recent []Order
}

// Statistics computes purchase statistics for a customer.
func (s *Service) Statistics(ctx context.Context, customerID int64) (*Statistics, error) {
	c, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	st := &Statistics{
		CustomerID:     c.ID,
		Tier:           c.Tier,
		TotalOrders:    len(orders),
		TotalSpent:     decimal.Zero,
		TotalRemaining: decimal.Zero,
		ByStatus:       make(map[Status]int, len(Statuses)),
	}
	for _, status := range Statuses {
		st.ByStatus[status] = 0
	}
	for i := range orders {
		o := &orders[i]
		st.ByStatus[o.Status]++
		st.TotalSpent = st.TotalSpent.Add(o.Paid())
		if o.Status == StatusPending || o.Status == StatusConfirmed {
			st.TotalRemaining = st.TotalRemaining.Add(o.Remaining)
		}
		if st.FirstOrderAt == nil || o.CreatedAt.Before(*st.FirstOrderAt) {
			at := o.CreatedAt
			st.FirstOrderAt = &at
		}
		if st.LastOrderAt == nil || o.CreatedAt.After(*st.LastOrderAt) {
			at := o.CreatedAt
			st.LastOrderAt = &at
		}
	}

	recent := slices.Clone(orders)
	slices.SortStableFunc(recent, func(a, b Order) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return int(b.ID - a.ID)
	})
	if len(recent) > recentOrders {
		recent = recent[:recentOrders]
	}
	st.Recent = recent
	return st, nil
}

// mergeItems validates quantities and folds repeated products into one line,
// keeping first-seen order.
func mergeItems(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}

	merged := make([]Item, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, apperr.Validation("quantity must be greater than 0 for product %d", item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func newOrder(customerID int64, q *pricing.Quote) *Order {
	lines := make([]Line, len(q.Lines))
	for i, l := range q.Lines {
		lines[i] = Line{
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			UnitPrice:   l.Product.Price,
			Quantity:    l.Quantity,
			Total:       l.Total,
		}
	}
	return &Order{
		CustomerID:      customerID,
		Status:          StatusPending,
		Subtotal:        q.Subtotal,
		LoyaltyDiscount: q.LoyaltyDiscount,
		CouponDiscount:  q.CouponDiscount,
		TaxRate:         q.TaxRate,
		Tax:             q.Tax,
		Total:           q.Total,
		Remaining:       q.Total,
		Lines:           lines,
	}
}
