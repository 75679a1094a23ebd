// Package payment settles payments against orders.
//
// The first payment of an order is the stock-consuming event: it deducts
// stock for every line, uses the order's coupon and sweeps competing PENDING
// orders, all inside the payment transaction.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/apperr"
)

// Method is how a payment was made.
type Method string

const (
	MethodCash     Method = "CASH"
	MethodTransfer Method = "TRANSFER"
	MethodOther    Method = "OTHER"
)

// ParseMethod parses a payment method name case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodCash, MethodTransfer, MethodOther:
		return m, nil
	default:
		return "", apperr.Validation("unknown payment method %q", s)
	}
}

// Status is the collection state of a payment. It is bookkeeping only and
// never affects the order balance.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCollected Status = "COLLECTED"
	StatusRejected  Status = "REJECTED"
)

// ParseStatus parses a payment status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusCollected, StatusRejected:
		return st, nil
	default:
		return "", apperr.Validation("unknown payment status %q", s)
	}
}

// Payment is an amount applied to an order. Amount, method and number never
// change after creation.
type Payment struct {
	ID      int64
	OrderID int64
	// Number is the 1-based position of the payment within its order.
	Number      int
	Amount      decimal.Decimal
	Method      Method
	Status      Status
	Reference   string
	BankName    string
	PaidAt      time.Time
	CollectedAt *time.Time
	DueDate     *time.Time
	CreatedAt   time.Time
}

// Repository defines persistence operations for payments.
//
// ListByOrder returns payments ordered by Number. Update persists the
// bookkeeping fields only: Status, Reference, BankName, CollectedAt, DueDate.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id int64) (*Payment, error)
	ListByOrder(ctx context.Context, orderID int64) ([]Payment, error)
	CountByOrder(ctx context.Context, orderID int64) (int, error)
	List(ctx context.Context) ([]Payment, error)
	Update(ctx context.Context, p *Payment) error
	Delete(ctx context.Context, id int64) error
}
