package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/loyalty"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
	"github.com/xenking/smartshop/internal/domain/pricing"
	"github.com/xenking/smartshop/internal/domain/product"
	"github.com/xenking/smartshop/internal/domain/stock"
	"github.com/xenking/smartshop/internal/handler"
	"github.com/xenking/smartshop/internal/storage/postgres"
	"github.com/xenking/smartshop/pkg/health"
	"github.com/xenking/smartshop/pkg/httpmiddleware"
)

const serviceName = "smartshop"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	settlement, err := cfg.Settlement.Parse()
	if err != nil {
		return errors.Wrap(err, "settlement config")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	api, err := newAPI(pool, settlement, []byte(cfg.APIKeyPepper),
		payment.WithMeterProvider(m.MeterProvider()),
		payment.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create api")
	}

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:       cfg.RateLimit.Max,
		Window:    cfg.RateLimit.Window,
		KeyHeader: handler.APIKeyHeader,
	})
	go limiter.Run(ctx)

	// Health endpoints and the API share one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", api)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(limiter),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newAPI wires the PostgreSQL repositories into the domain services and
// returns the /api routes.
func newAPI(pool *pgxpool.Pool, s Settlement, pepper []byte, opts ...payment.Option) (http.Handler, error) {
	tx := postgres.NewTxManager(pool)

	// Repositories.
	customerRepo := postgres.NewCustomerRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	historyRepo := postgres.NewHistoryRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	rules := loyalty.DefaultRules()
	rules.Match = s.LoyaltyMatch
	evaluator := loyalty.NewEvaluator(rules, customerRepo, historyRepo)

	prices := pricing.DefaultConfig()
	prices.TaxRate = s.TaxRate

	coupons := coupon.NewLedger(tx, couponRepo)
	ledger := stock.NewLedger(productRepo)
	orders := order.NewService(tx, orderRepo, customerRepo, productRepo, coupons,
		pricing.NewCalculator(prices), evaluator)
	payments, err := payment.NewService(tx, orderRepo, paymentRepo, ledger, coupons,
		payment.NewReconciler(orderRepo, paymentRepo, ledger), evaluator,
		payment.Config{CashCeiling: s.CashCeiling},
		opts...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment service")
	}

	h := handler.New(handler.Services{
		Products:  product.NewService(tx, productRepo),
		Customers: customer.NewService(customerRepo),
		Coupons:   coupons,
		Orders:    orders,
		Payments:  payments,
	}, auth.NewAuthenticator(apikeyRepo, pepper))
	return h.Routes(), nil
}
