// Command seed-db loads the demo catalog and an admin API key into PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/product"
	"github.com/xenking/smartshop/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to catalog JSON file (default: embedded demo catalog)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	slog.Info("reading catalog", slog.String("path", catalogFile))

	cat, err := readCatalog(catalogFile)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	tx := postgres.NewTxManager(pool)
	s := &seeder{
		products:  product.NewService(tx, postgres.NewProductRepository(pool)),
		customers: customer.NewService(postgres.NewCustomerRepository(pool)),
		coupons:   coupon.NewLedger(tx, postgres.NewCouponRepository(pool)),
		keys:      postgres.NewAPIKeyRepository(pool),
	}

	if err := s.seedCatalog(ctx, cat); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := s.seedAPIKey(ctx, apiKey, []byte(pepper)); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}
