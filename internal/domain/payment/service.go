package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/stock"
	"github.com/xenking/smartshop/internal/domain/txn"
)

const instrumentationName = "github.com/xenking/smartshop/internal/domain/payment"

// DefaultCashCeiling is the largest amount accepted in a single CASH payment.
var DefaultCashCeiling = decimal.NewFromInt(20000)

// StockDeducter consumes stock for the lines of a paid order.
type StockDeducter interface {
	DeductAll(ctx context.Context, reqs []stock.Requirement) error
}

// CouponConsumer records the single use of a coupon.
type CouponConsumer interface {
	Consume(ctx context.Context, id int64) error
}

// Config holds settlement limits.
type Config struct {
	// CashCeiling caps a single CASH payment. Zero means DefaultCashCeiling.
	CashCeiling decimal.Decimal
}

// Option configures a Service.
type Option func(*Service)

// WithMeterProvider sets the meter provider for settlement metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for settlement spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// Service is the payment settlement engine.
type Service struct {
	tx         txn.Manager
	orders     order.Repository
	payments   Repository
	stock      StockDeducter
	coupons    CouponConsumer
	reconciler *Reconciler
	loyalty    order.TierUpgrader

	cashCeiling decimal.Decimal
	now         func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	settled        metric.Int64Counter
	rejected       metric.Int64Counter
}

// NewService creates a settlement Service.
func NewService(
	tx txn.Manager,
	orders order.Repository,
	payments Repository,
	deducter StockDeducter,
	coupons CouponConsumer,
	reconciler *Reconciler,
	loyalty order.TierUpgrader,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		tx:          tx,
		orders:      orders,
		payments:    payments,
		stock:       deducter,
		coupons:     coupons,
		reconciler:  reconciler,
		loyalty:     loyalty,
		cashCeiling: cfg.CashCeiling,
		now:         time.Now,

		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cashCeiling.IsZero() {
		s.cashCeiling = DefaultCashCeiling
	}

	meter := s.meterProvider.Meter(instrumentationName)
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	var err error
	if s.settled, err = meter.Int64Counter("settlement.payments",
		metric.WithDescription("Payments applied to orders"),
	); err != nil {
		return nil, errors.Wrap(err, "payments counter")
	}
	if s.rejected, err = meter.Int64Counter("settlement.orders.rejected",
		metric.WithDescription("Pending orders rejected by stock reconciliation"),
	); err != nil {
		return nil, errors.Wrap(err, "rejected orders counter")
	}
	return s, nil
}

// CreateRequest holds the input for applying a payment.
type CreateRequest struct {
	OrderID int64
	Amount  decimal.Decimal
	Method  Method
	// Status defaults to COLLECTED for cash and PENDING otherwise.
	Status Status
	// Reference defaults to a generated identifier.
	Reference string
	BankName  string
	// PaidAt defaults to the current time.
	PaidAt  time.Time
	DueDate *time.Time
}

// Result is the outcome of a settled payment.
type Result struct {
	Payment *Payment
	Order   *order.Order
	// First reports whether this payment consumed stock.
	First bool
	// Rejected lists the competing orders rejected by the sweep.
	Rejected []int64
}

// Create applies a payment to a PENDING or CONFIRMED order in one
// transaction.
//
// The first payment of an order also deducts stock for every line, uses the
// order's coupon and rejects competing unpaid orders that stock can no longer
// supply. Any failure in those steps aborts the payment. The customer's tier
// is re-evaluated after every payment.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Result, rerr error) {
	ctx, span := s.tracer.Start(ctx, "payment.Create",
		trace.WithAttributes(
			attribute.Int64("order.id", req.OrderID),
			attribute.String("payment.method", string(req.Method)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	res := &Result{}
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := s.validate(o, req); err != nil {
			return err
		}

		prior, err := s.payments.CountByOrder(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "count payments")
		}

		p := s.newPayment(o.ID, prior+1, req)
		if err := s.payments.Create(ctx, p); err != nil {
			return errors.Wrap(err, "create payment")
		}

		o.Remaining = o.Remaining.Sub(p.Amount)
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}

		res.Payment = p
		res.Order = o
		res.First = prior == 0
		if res.First {
			if res.Rejected, err = s.consume(ctx, o); err != nil {
				return err
			}
		}

		if _, err := s.loyalty.UpgradeIfEligible(ctx, o.CustomerID); err != nil {
			return errors.Wrap(err, "upgrade loyalty tier")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(res.Payment.Method)),
		attribute.Bool("first", res.First),
	))
	if n := len(res.Rejected); n > 0 {
		s.rejected.Add(ctx, int64(n))
	}
	span.SetAttributes(
		attribute.Int("payment.number", res.Payment.Number),
		attribute.Int("orders.rejected", len(res.Rejected)),
	)

	zctx.From(ctx).Info("Payment settled",
		zap.Int64("payment_id", res.Payment.ID),
		zap.Int64("order_id", res.Order.ID),
		zap.Int("number", res.Payment.Number),
		zap.String("amount", res.Payment.Amount.StringFixed(2)),
		zap.String("remaining", res.Order.Remaining.StringFixed(2)),
		zap.Bool("first", res.First),
		zap.Int64s("rejected", res.Rejected),
	)
	return res, nil
}

func (s *Service) validate(o *order.Order, req CreateRequest) error {
	if !req.Amount.IsPositive() {
		return apperr.Validation("payment amount must be greater than 0")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return apperr.Validation("payment amount %s has more than 2 decimal places", req.Amount)
	}
	switch req.Method {
	case MethodCash, MethodTransfer, MethodOther:
	default:
		return apperr.Validation("unknown payment method %q", req.Method)
	}
	if req.Method == MethodCash && req.Amount.GreaterThan(s.cashCeiling) {
		return apperr.Validation("cash payment cannot exceed %s", s.cashCeiling.StringFixed(2))
	}
	if !payable(o.Status) {
		return apperr.State("order %d is %s and accepts no payments", o.ID, o.Status)
	}
	if req.Amount.GreaterThan(o.Remaining) {
		return apperr.Validation("payment amount %s exceeds remaining amount %s",
			req.Amount.StringFixed(2), o.Remaining.StringFixed(2))
	}
	return nil
}

// payable reports whether an order in status st still carries a balance that
// can be settled. CANCELED and REJECTED orders never hold payments.
func payable(st order.Status) bool {
	return st == order.StatusPending || st == order.StatusConfirmed
}

func (s *Service) newPayment(orderID int64, number int, req CreateRequest) *Payment {
	p := &Payment{
		OrderID:   orderID,
		Number:    number,
		Amount:    req.Amount,
		Method:    req.Method,
		Status:    req.Status,
		Reference: strings.TrimSpace(req.Reference),
		BankName:  strings.TrimSpace(req.BankName),
		PaidAt:    req.PaidAt,
		DueDate:   req.DueDate,
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now()
	}
	if p.Reference == "" {
		p.Reference = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
		if p.Method == MethodCash {
			p.Status = StatusCollected
		}
	}
	if p.Status == StatusCollected {
		at := p.PaidAt
		p.CollectedAt = &at
	}
	return p
}

// consume applies the one-shot effects of a first payment.
func (s *Service) consume(ctx context.Context, o *order.Order) ([]int64, error) {
	reqs := make([]stock.Requirement, len(o.Lines))
	for i, l := range o.Lines {
		reqs[i] = stock.Requirement{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	if err := s.stock.DeductAll(ctx, reqs); err != nil {
		return nil, errors.Wrap(err, "deduct stock")
	}

	if o.CouponID != nil {
		if err := s.coupons.Consume(ctx, *o.CouponID); err != nil {
			return nil, errors.Wrap(err, "consume coupon")
		}
	}

	rejected, err := s.reconciler.Sweep(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reconcile pending orders")
	}
	return rejected, nil
}

// UpdateRequest holds bookkeeping edits. Nil fields are left unchanged.
// Amount, method and number cannot be edited.
type UpdateRequest struct {
	Status      *Status
	Reference   *string
	BankName    *string
	CollectedAt *time.Time
	DueDate     *time.Time
}

// Update edits the bookkeeping fields of a payment.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Payment, error) {
	var updated *Payment
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.payments.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != nil {
			st, err := ParseStatus(string(*req.Status))
			if err != nil {
				return err
			}
			p.Status = st
			if st == StatusCollected && p.CollectedAt == nil && req.CollectedAt == nil {
				now := s.now()
				p.CollectedAt = &now
			}
		}
		if req.Reference != nil {
			ref := strings.TrimSpace(*req.Reference)
			if ref == "" {
				return apperr.Validation("payment reference must not be empty")
			}
			p.Reference = ref
		}
		if req.BankName != nil {
			p.BankName = strings.TrimSpace(*req.BankName)
		}
		if req.CollectedAt != nil {
			p.CollectedAt = req.CollectedAt
		}
		if req.DueDate != nil {
			p.DueDate = req.DueDate
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the latest payment of a PENDING or CONFIRMED order and
// restores its amount to the order balance. The first payment of an order cannot be
// deleted because its stock and coupon effects are not reversible.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.payments.Get(ctx, id)
		if err != nil {
			return err
		}
		o, err := s.orders.GetForUpdate(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if !payable(o.Status) {
			return apperr.State("order %d is %s, its payments can no longer be deleted", o.ID, o.Status)
		}
		if p.Number == 1 {
			return apperr.Conflict("payment %d is the first payment of order %d and cannot be deleted", p.ID, o.ID)
		}
		count, err := s.payments.CountByOrder(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "count payments")
		}
		if p.Number != count {
			return apperr.Conflict("only the latest payment of order %d can be deleted", o.ID)
		}

		if err := s.payments.Delete(ctx, p.ID); err != nil {
			return errors.Wrap(err, "delete payment")
		}
		o.Remaining = o.Remaining.Add(p.Amount)
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Payment deleted", zap.Int64("payment_id", id))
	return nil
}

// Get returns a payment by id.
func (s *Service) Get(ctx context.Context, id int64) (*Payment, error) {
	return s.payments.Get(ctx, id)
}

// ListByOrder returns the payments of an existing order ordered by number.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.payments.ListByOrder(ctx, orderID)
}

// List returns all payments.
func (s *Service) List(ctx context.Context) ([]Payment, error) {
	return s.payments.List(ctx)
}
