package payment_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/loyalty"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
	"github.com/xenking/smartshop/internal/domain/pricing"
	"github.com/xenking/smartshop/internal/domain/product"
	"github.com/xenking/smartshop/internal/domain/stock"
	"github.com/xenking/smartshop/internal/storage/memory"
)

// --- Helpers ---

type fixture struct {
	store     *memory.Store
	orders    *order.Service
	payments  *payment.Service
	coupons   *coupon.Ledger
	customers int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.NewStore()
	coupons := coupon.NewLedger(s, s.Coupons())
	ledger := stock.NewLedger(s.Products())
	evaluator := loyalty.NewEvaluator(loyalty.DefaultRules(), s.Customers(), s.History())

	orders := order.NewService(s, s.Orders(), s.Customers(), s.Products(), coupons,
		pricing.NewCalculator(pricing.DefaultConfig()), evaluator)
	reconciler := payment.NewReconciler(s.Orders(), s.Payments(), ledger)
	payments, err := payment.NewService(s, s.Orders(), s.Payments(), ledger, coupons, reconciler, evaluator,
		payment.Config{CashCeiling: decimal.NewFromInt(20000)},
		payment.WithMeterProvider(metricnoop.NewMeterProvider()),
		payment.WithTracerProvider(tracenoop.NewTracerProvider()),
	)
	require.NoError(t, err)

	return &fixture{store: s, orders: orders, payments: payments, coupons: coupons}
}

func (f *fixture) customer(t *testing.T) int64 {
	t.Helper()
	f.customers++
	c := &customer.Customer{Name: "Ada", Email: fmt.Sprintf("ada%d@example.com", f.customers)}
	require.NoError(t, f.store.Customers().Create(context.Background(), c))
	return c.ID
}

func (f *fixture) product(t *testing.T, price string, stock int) int64 {
	t.Helper()
	p := &product.Product{Name: "Widget", Price: decimal.RequireFromString(price), Stock: stock}
	require.NoError(t, f.store.Products().Create(context.Background(), p))
	return p.ID
}

func (f *fixture) order(t *testing.T, customerID, productID int64, qty int, couponCode string) *order.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), order.CreateRequest{
		CustomerID: customerID,
		Items:      []order.Item{{ProductID: productID, Quantity: qty}},
		CouponCode: couponCode,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) pay(orderID int64, amount string, method payment.Method) (*payment.Result, error) {
	return f.payments.Create(context.Background(), payment.CreateRequest{
		OrderID: orderID,
		Amount:  decimal.RequireFromString(amount),
		Method:  method,
	})
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.store.Products().Get(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) reload(t *testing.T, orderID int64) *order.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	return o
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// --- Tests ---

func TestCreate_FullPaymentThenConfirm(t *testing.T) {
	f := newFixture(t)
	cid := f.customer(t)
	pid := f.product(t, "100.00", 10)
	o := f.order(t, cid, pid, 2, "")
	requireDecimal(t, "240.00", o.Total)

	res, err := f.pay(o.ID, "240.00", payment.MethodTransfer)
	require.NoError(t, err)
	assert.True(t, res.First)
	assert.Equal(t, 1, res.Payment.Number)
	assert.Equal(t, payment.StatusPending, res.Payment.Status)
	assert.NotEmpty(t, res.Payment.Reference)
	requireDecimal(t, "0", res.Order.Remaining)
	assert.Equal(t, 8, f.stock(t, pid))

	confirmed, err := f.orders.Confirm(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, confirmed.Status)
}

func TestCreate_PartialPaymentsDeductStockOnce(t *testing.T) {
	f := newFixture(t)
	cid := f.customer(t)
	pid := f.product(t, "100.00", 10)
	o := f.order(t, cid, pid, 2, "")

	amounts := []string{"100.00", "40.00", "99.99", "0.01"}
	paid := decimal.Zero
	for i, amount := range amounts {
		res, err := f.pay(o.ID, amount, payment.MethodCash)
		require.NoError(t, err)
		assert.Equal(t, i+1, res.Payment.Number)
		assert.Equal(t, i == 0, res.First)
		assert.Equal(t, payment.StatusCollected, res.Payment.Status)
		require.NotNil(t, res.Payment.CollectedAt)

		paid = paid.Add(decimal.RequireFromString(amount))
		requireDecimal(t, o.Total.Sub(paid).String(), f.reload(t, o.ID).Remaining)
		assert.Equal(t, 8, f.stock(t, pid))
	}
	requireDecimal(t, "0", f.reload(t, o.ID).Remaining)

	// Fully paid: nothing more can be applied.
	_, err := f.pay(o.ID, "0.01", payment.MethodCash)
	require.ErrorIs(t, err, apperr.ErrValidation)

	list, err := f.payments.ListByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, list, len(amounts))
	for i, p := range list {
		assert.Equal(t, i+1, p.Number)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	cid := f.customer(t)
	pid := f.product(t, "25000.00", 10)
	o := f.order(t, cid, pid, 1, "")
	requireDecimal(t, "30000.00", o.Total)

	tests := []struct {
		name    string
		orderID int64
		amount  string
		method  payment.Method
		wantErr error
	}{
		{name: "missing order", orderID: 999, amount: "10", method: payment.MethodCash, wantErr: apperr.ErrNotFound},
		{name: "zero amount", orderID: o.ID, amount: "0", method: payment.MethodCash, wantErr: apperr.ErrValidation},
		{name: "negative amount", orderID: o.ID, amount: "-5", method: payment.MethodCash, wantErr: apperr.ErrValidation},
		{name: "unknown method", orderID: o.ID, amount: "5", method: "CHEQUE", wantErr: apperr.ErrValidation},
		{name: "cash above ceiling", orderID: o.ID, amount: "25000.00", method: payment.MethodCash, wantErr: apperr.ErrValidation},
		{name: "above remaining", orderID: o.ID, amount: "30000.01", method: payment.MethodTransfer, wantErr: apperr.ErrValidation},
		{name: "sub-cent amount", orderID: o.ID, amount: "10.005", method: payment.MethodTransfer, wantErr: apperr.ErrValidation},
		{name: "sub-cent cash", orderID: o.ID, amount: "0.001", method: payment.MethodCash, wantErr: apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pay(tt.orderID, tt.amount, tt.method)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing was recorded and no stock moved.
	requireDecimal(t, "30000.00", f.reload(t, o.ID).Remaining)
	assert.Equal(t, 10, f.stock(t, pid))

	// Cash exactly at the ceiling and transfers above it are accepted.
	// Trailing zeros past the cents are not a precision problem.
	_, err := f.pay(o.ID, "20000.000", payment.MethodCash)
	require.NoError(t, err)
	_, err = f.pay(o.ID, "10000.00", payment.MethodTransfer)
	require.NoError(t, err)
}

func TestCreate_SettlesConfirmedBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, f.customer(t), f.product(t, "100.00", 10), 2, "")
	requireDecimal(t, "240.00", o.Total)

	_, err := f.pay(o.ID, "100.00", payment.MethodCash)
	require.NoError(t, err)

	confirmed, err := f.orders.Confirm(ctx, o.ID)
	require.NoError(t, err)
	requireDecimal(t, "140.00", confirmed.Remaining)

	res, err := f.pay(o.ID, "140.01", payment.MethodTransfer)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.Nil(t, res)

	res, err = f.pay(o.ID, "140.00", payment.MethodTransfer)
	require.NoError(t, err)
	assert.False(t, res.First)
	assert.Equal(t, 2, res.Payment.Number)
	assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	requireDecimal(t, "0.00", f.reload(t, o.ID).Remaining)

	_, err = f.pay(o.ID, "0.01", payment.MethodCash)
	require.ErrorIs(t, err, apperr.ErrValidation, "nothing left to pay")
}

func TestCreate_RejectsClosedOrders(t *testing.T) {
	f := newFixture(t)
	cid := f.customer(t)
	pid := f.product(t, "10.00", 10)
	o := f.order(t, cid, pid, 1, "")

	_, err := f.orders.Cancel(context.Background(), o.ID)
	require.NoError(t, err)

	_, err = f.pay(o.ID, "1.00", payment.MethodCash)
	require.ErrorIs(t, err, apperr.ErrState)
}

func TestCreate_LastUnitsRace(t *testing.T) {
	f := newFixture(t)
	pid := f.product(t, "10.00", 3)
	winner := f.order(t, f.customer(t), pid, 3, "")
	loser := f.order(t, f.customer(t), pid, 3, "")

	res, err := f.pay(winner.ID, "1.00", payment.MethodCash)
	require.NoError(t, err)
	assert.Equal(t, []int64{loser.ID}, res.Rejected)
	assert.Equal(t, 0, f.stock(t, pid))
	assert.Equal(t, order.StatusRejected, f.reload(t, loser.ID).Status)

	_, err = f.pay(loser.ID, "1.00", payment.MethodCash)
	require.ErrorIs(t, err, apperr.ErrState)
}

func TestCreate_DeductConflictRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.customer(t)
	pid := f.product(t, "10.00", 3)
	o := f.order(t, cid, pid, 3, "")

	// Stock shrinks after the order was priced.
	require.NoError(t, f.store.Products().SetStock(ctx, pid, 2))

	_, err := f.pay(o.ID, "5.00", payment.MethodCash)
	require.ErrorIs(t, err, apperr.ErrConflict)

	stored := f.reload(t, o.ID)
	requireDecimal(t, stored.Total.String(), stored.Remaining)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, 2, f.stock(t, pid))

	list, err := f.payments.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_ConsumesCouponOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.product(t, "100.00", 10)
	_, err := f.coupons.Create(ctx, coupon.CreateRequest{Code: "SPRING", Percentage: decimal.NewFromInt(15)})
	require.NoError(t, err)

	// Both orders validate the unused coupon.
	first := f.order(t, f.customer(t), pid, 1, "SPRING")
	second := f.order(t, f.customer(t), pid, 1, "SPRING")

	_, err = f.pay(first.ID, "10.00", payment.MethodCash)
	require.NoError(t, err)
	c, err := f.coupons.FindByCode(ctx, "SPRING")
	require.NoError(t, err)
	assert.True(t, c.Used)
	require.NotNil(t, c.UsedAt)

	// A second payment on the same order does not touch the coupon again.
	_, err = f.pay(first.ID, "10.00", payment.MethodCash)
	require.NoError(t, err)

	// The competing order cannot settle: its coupon is gone.
	_, err = f.pay(second.ID, "10.00", payment.MethodCash)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 9, f.stock(t, pid))
	stored := f.reload(t, second.ID)
	requireDecimal(t, stored.Total.String(), stored.Remaining)
}

func TestCreate_UpgradesTierAfterPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.customer(t)
	pid := f.product(t, "1000.00", 10)
	o := f.order(t, cid, pid, 1, "")

	_, err := f.pay(o.ID, "999.99", payment.MethodCash)
	require.NoError(t, err)
	c, err := f.store.Customers().Get(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, customer.TierBasic, c.Tier)

	_, err = f.pay(o.ID, "0.01", payment.MethodCash)
	require.NoError(t, err)
	c, err = f.store.Customers().Get(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, customer.TierSilver, c.Tier)
}

func TestReconciler_SkipsPaidOrders(t *testing.T) {
	f := newFixture(t)
	pid := f.product(t, "10.00", 4)
	paid := f.order(t, f.customer(t), pid, 2, "")
	payer := f.order(t, f.customer(t), pid, 2, "")
	unpaid := f.order(t, f.customer(t), pid, 1, "")

	_, err := f.pay(paid.ID, "1.00", payment.MethodCash)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stock(t, pid))

	res, err := f.pay(payer.ID, "1.00", payment.MethodCash)
	require.NoError(t, err)
	assert.Equal(t, 0, f.stock(t, pid))

	// The paid order keeps its claim, the unpaid one is rejected.
	assert.Equal(t, []int64{unpaid.ID}, res.Rejected)
	assert.Equal(t, order.StatusPending, f.reload(t, paid.ID).Status)
	assert.Equal(t, order.StatusPending, f.reload(t, payer.ID).Status)
	assert.Equal(t, order.StatusRejected, f.reload(t, unpaid.ID).Status)
}

func TestReconciler_RejectsOrdersWithVanishedProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.product(t, "10.00", 5)
	o := f.order(t, f.customer(t), pid, 1, "")

	r := payment.NewReconciler(f.store.Orders(), f.store.Payments(), &vanished{})
	var rejected []int64
	err := f.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		rejected, err = r.Sweep(ctx, 0)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{o.ID}, rejected)
}

type vanished struct{}

func (vanished) Satisfiable(context.Context, int64, int) (bool, error) { return false, nil }

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, f.customer(t), f.product(t, "10.00", 5), 1, "")
	res, err := f.pay(o.ID, "5.00", payment.MethodTransfer)
	require.NoError(t, err)

	collected := payment.StatusCollected
	bank := "First Bank"
	updated, err := f.payments.Update(ctx, res.Payment.ID, payment.UpdateRequest{
		Status:   &collected,
		BankName: &bank,
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCollected, updated.Status)
	assert.Equal(t, "First Bank", updated.BankName)
	require.NotNil(t, updated.CollectedAt)
	requireDecimal(t, "5.00", updated.Amount)

	empty := " "
	_, err = f.payments.Update(ctx, res.Payment.ID, payment.UpdateRequest{Reference: &empty})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.payments.Update(ctx, 999, payment.UpdateRequest{})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, f.customer(t), f.product(t, "10.00", 5), 1, "")

	first, err := f.pay(o.ID, "5.00", payment.MethodCash)
	require.NoError(t, err)
	second, err := f.pay(o.ID, "3.00", payment.MethodCash)
	require.NoError(t, err)
	third, err := f.pay(o.ID, "2.00", payment.MethodCash)
	require.NoError(t, err)

	require.ErrorIs(t, f.payments.Delete(ctx, first.Payment.ID), apperr.ErrConflict)
	require.ErrorIs(t, f.payments.Delete(ctx, second.Payment.ID), apperr.ErrConflict)

	require.NoError(t, f.payments.Delete(ctx, third.Payment.ID))
	requireDecimal(t, "4.00", f.reload(t, o.ID).Remaining)

	// Numbering stays gapless after a delete.
	again, err := f.pay(o.ID, "1.00", payment.MethodCash)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Payment.Number)

	// Bookkeeping corrections stay possible after confirmation.
	_, err = f.orders.Confirm(ctx, o.ID)
	require.NoError(t, err)
	require.NoError(t, f.payments.Delete(ctx, again.Payment.ID))
	reloaded := f.reload(t, o.ID)
	assert.Equal(t, order.StatusConfirmed, reloaded.Status)
	requireDecimal(t, "4.00", reloaded.Remaining)
	require.ErrorIs(t, f.payments.Delete(ctx, 999), apperr.ErrNotFound)
}

func TestListByOrder_MissingOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.payments.ListByOrder(context.Background(), 42)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
