//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/loyalty"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
	"github.com/xenking/smartshop/internal/domain/pricing"
	"github.com/xenking/smartshop/internal/domain/product"
	"github.com/xenking/smartshop/internal/domain/stock"
	"github.com/xenking/smartshop/internal/storage/postgres"
)

// --- Helpers ---

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("smartshop"),
		tcpostgres.WithUsername("smartshop"),
		tcpostgres.WithPassword("smartshop"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return pool
}

type engine struct {
	customers *postgres.CustomerRepository
	products  *postgres.ProductRepository
	orders    *order.Service
	payments  *payment.Service
	coupons   *coupon.Ledger
}

func newEngine(t *testing.T, pool *pgxpool.Pool) *engine {
	t.Helper()
	tx := postgres.NewTxManager(pool)
	customers := postgres.NewCustomerRepository(pool)
	products := postgres.NewProductRepository(pool)
	orders := postgres.NewOrderRepository(pool)
	payments := postgres.NewPaymentRepository(pool)

	coupons := coupon.NewLedger(tx, postgres.NewCouponRepository(pool))
	ledger := stock.NewLedger(products)
	evaluator := loyalty.NewEvaluator(loyalty.DefaultRules(), customers, postgres.NewHistoryRepository(pool))

	orderSvc := order.NewService(tx, orders, customers, products, coupons,
		pricing.NewCalculator(pricing.DefaultConfig()), evaluator)
	paymentSvc, err := payment.NewService(tx, orders, payments, ledger, coupons,
		payment.NewReconciler(orders, payments, ledger), evaluator,
		payment.Config{CashCeiling: payment.DefaultCashCeiling},
		payment.WithMeterProvider(metricnoop.NewMeterProvider()),
		payment.WithTracerProvider(tracenoop.NewTracerProvider()),
	)
	require.NoError(t, err)

	return &engine{
		customers: customers,
		products:  products,
		orders:    orderSvc,
		payments:  paymentSvc,
		coupons:   coupons,
	}
}

func (e *engine) seed(t *testing.T, email, price string, stock int) (customerID, productID int64) {
	t.Helper()
	ctx := context.Background()
	c := &customer.Customer{Name: "Grace", Email: email}
	require.NoError(t, e.customers.Create(ctx, c))
	p := &product.Product{Name: "Keyboard", Category: "peripherals", Price: decimal.RequireFromString(price), Stock: stock}
	require.NoError(t, e.products.Create(ctx, p))
	return c.ID, p.ID
}

// --- Tests ---

func TestPostgres_Settlement(t *testing.T) {
	pool := startPostgres(t)
	e := newEngine(t, pool)
	ctx := context.Background()

	t.Run("full payment deducts stock and consumes coupon", func(t *testing.T) {
		customerID, productID := e.seed(t, "full@example.com", "100.00", 5)
		_, err := e.coupons.Create(ctx, coupon.CreateRequest{Code: "PG10", Percentage: decimal.NewFromInt(10)})
		require.NoError(t, err)

		o, err := e.orders.Create(ctx, order.CreateRequest{
			CustomerID: customerID,
			Items:      []order.Item{{ProductID: productID, Quantity: 2}},
			CouponCode: "PG10",
		})
		require.NoError(t, err)
		require.Len(t, o.Lines, 1)
		assert.True(t, decimal.RequireFromString("216.00").Equal(o.Total), "total %s", o.Total)

		res, err := e.payments.Create(ctx, payment.CreateRequest{OrderID: o.ID, Amount: o.Total, Method: payment.MethodTransfer})
		require.NoError(t, err)
		assert.True(t, res.First)
		assert.True(t, res.Order.Remaining.IsZero())

		p, err := e.products.Get(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 3, p.Stock)

		c, err := e.coupons.FindByCode(ctx, "PG10")
		require.NoError(t, err)
		assert.True(t, c.Used)
		require.NotNil(t, c.UsedAt)

		confirmed, err := e.orders.Confirm(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusConfirmed, confirmed.Status)

		reloaded, err := e.orders.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.Lines, reloaded.Lines)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		c := &customer.Customer{Name: "Dup", Email: "dup@example.com"}
		require.NoError(t, e.customers.Create(ctx, c))
		err := e.customers.Create(ctx, &customer.Customer{Name: "Dup", Email: "dup@example.com"})
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("missing rows map to not found", func(t *testing.T) {
		_, err := e.orders.Get(ctx, 999999)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		_, err = e.products.Get(ctx, 999999)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("concurrent payments never oversell", func(t *testing.T) {
		customerID, productID := e.seed(t, "race@example.com", "10.00", 1)

		const n = 4
		ids := make([]int64, n)
		for i := range ids {
			o, err := e.orders.Create(ctx, order.CreateRequest{
				CustomerID: customerID,
				Items:      []order.Item{{ProductID: productID, Quantity: 1}},
			})
			require.NoError(t, err)
			ids[i] = o.ID
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = e.payments.Create(ctx, payment.CreateRequest{
					OrderID: id,
					Amount:  decimal.RequireFromString("1.00"),
					Method:  payment.MethodCash,
				})
			}()
		}
		wg.Wait()

		p, err := e.products.Get(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Stock)

		paid := 0
		for _, id := range ids {
			list, err := e.payments.ListByOrder(ctx, id)
			require.NoError(t, err)
			paid += len(list)
		}
		assert.Equal(t, 1, paid)
	})
}

func TestPostgres_APIKeys(t *testing.T) {
	pool := startPostgres(t)
	repo := postgres.NewAPIKeyRepository(pool)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pepper := []byte("pepper")
	info := &auth.APIKeyInfo{
		KeyHash: auth.HashKey(pepper, "secret"),
		Name:    "admin",
		Scopes:  []string{auth.ScopeAll},
	}
	require.NoError(t, repo.Create(ctx, info))

	principal, err := auth.NewAuthenticator(repo, pepper).Authenticate(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", principal.Name)
	assert.True(t, principal.HasScope(auth.ScopeOrdersWrite))

	_, err = auth.NewAuthenticator(repo, pepper).Authenticate(ctx, "wrong")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}
