package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/apperr"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
	StatusRejected  Status = "REJECTED"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusCanceled, StatusRejected}

// transitions is the complete order state machine. Statuses without an entry
// are terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusConfirmed, StatusCanceled, StatusRejected},
}

// CanTransition reports whether an order in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s accepts no further transition.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Line is an immutable snapshot of one purchased product. Name and unit price
// are copied at creation so later catalog edits do not alter the order.
type Line struct {
	ProductID   int64
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Total       decimal.Decimal
}

// Order is a priced basket owned by a customer.
//
// Remaining always equals Total minus the sum of the order's payments and
// stays within [0, Total].
type Order struct {
	ID              int64
	CustomerID      int64
	Status          Status
	Subtotal        decimal.Decimal
	LoyaltyDiscount decimal.Decimal
	CouponDiscount  decimal.Decimal
	TaxRate         decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	Remaining       decimal.Decimal
	CouponID        *int64
	CouponCode      string
	Lines           []Line
	CreatedAt       time.Time
}

// Discount returns the combined loyalty and coupon discount.
func (o *Order) Discount() decimal.Decimal {
	return o.LoyaltyDiscount.Add(o.CouponDiscount)
}

// Paid returns the sum of payments applied so far.
func (o *Order) Paid() decimal.Decimal {
	return o.Total.Sub(o.Remaining)
}

// HasPayments reports whether any money has been applied to the order.
func (o *Order) HasPayments() bool {
	return !o.Remaining.Equal(o.Total)
}

// TransitionTo moves the order to next or fails with a state error.
func (o *Order) TransitionTo(next Status) error {
	if !o.Status.CanTransition(next) {
		return apperr.State("order %d cannot move from %s to %s", o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}

// Repository defines persistence operations for orders.
//
// Create stores the order together with its lines and assigns ID and
// CreatedAt. Update persists Status and Remaining only: lines and prices are
// immutable. GetForUpdate locks the order row until the enclosing
// transaction ends. Listings are ordered by creation, oldest first.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	Update(ctx context.Context, o *Order) error
	List(ctx context.Context) ([]Order, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
}
