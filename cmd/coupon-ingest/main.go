// Command coupon-ingest bulk-loads coupons from "CODE,PERCENT" files, plain
// or gzip-compressed, into PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/storage/postgres"
)

func main() {
	var (
		pattern     string
		databaseURL string
		capacity    uint
	)

	flag.StringVar(&pattern, "files", "data/coupons*.csv*", "glob of coupon files (.csv or .csv.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "capacity", 1_000_000, "expected number of distinct codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, capacity); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, capacity uint) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", pattern)
	}
	slog.Info("importing coupons", slog.Int("files", len(files)))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	ledger := coupon.NewLedger(postgres.NewTxManager(pool), postgres.NewCouponRepository(pool))
	stats, err := NewImporter(ledger, capacity).Import(ctx, files)
	slog.Info("import finished",
		slog.Int("created", stats.Created),
		slog.Int("duplicate", stats.Duplicate),
		slog.Int("invalid", stats.Invalid),
	)
	return err
}
