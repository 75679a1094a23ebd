package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000
)

// Store is the subset of coupon.Ledger the importer needs.
type Store interface {
	Create(ctx context.Context, req coupon.CreateRequest) (*coupon.Coupon, error)
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
}

// record is one "CODE,PERCENT" row. err is set when the row is malformed.
type record struct {
	file string
	line int
	req  coupon.CreateRequest
	err  error
}

// Stats summarizes an import run.
type Stats struct {
	Created   int
	Duplicate int
	Invalid   int
}

// Importer bulk-loads coupons. Files are scanned concurrently; a single
// writer creates the coupons.
//
// The bloom filter holds every code known to exist. A code the filter has
// never seen is created directly, and only possible hits pay for an exact
// lookup.
type Importer struct {
	store    Store
	capacity uint
}

// NewImporter creates an Importer sized for about capacity distinct codes.
func NewImporter(store Store, capacity uint) *Importer {
	return &Importer{store: store, capacity: capacity}
}

// Import reads every file and creates the coupons it lists.
func (im *Importer) Import(ctx context.Context, files []string) (Stats, error) {
	var stats Stats

	known, err := im.store.List(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "list coupons")
	}
	filter := bloom.NewWithEstimates(max(im.capacity, uint(len(known))+1), bloomFPR)
	for _, c := range known {
		filter.AddString(c.Code)
	}
	slog.Info("existing coupons loaded", slog.Int("count", len(known)))

	records := make(chan record, 1024)
	g, gctx := errgroup.WithContext(ctx)
	scans, scanCtx := errgroup.WithContext(gctx)
	for _, f := range files {
		scans.Go(func() error {
			return scanFile(scanCtx, f, records)
		})
	}
	g.Go(func() error {
		defer close(records)
		return scans.Wait()
	})

	g.Go(func() error {
		for r := range records {
			if err := im.create(gctx, filter, r, &stats); err != nil {
				return err
			}
			if n := stats.Created + stats.Duplicate; n > 0 && n%progressEvery == 0 {
				slog.Info("import progress", slog.Int("created", stats.Created), slog.Int("duplicate", stats.Duplicate))
			}
		}
		return nil
	})

	err = g.Wait()
	return stats, err
}

func (im *Importer) create(ctx context.Context, filter *bloom.BloomFilter, r record, stats *Stats) error {
	if r.err != nil {
		slog.Warn("skipping row", slog.String("file", r.file), slog.Int("line", r.line), slog.String("error", r.err.Error()))
		stats.Invalid++
		return nil
	}
	if filter.TestString(r.req.Code) {
		_, err := im.store.FindByCode(ctx, r.req.Code)
		switch {
		case err == nil:
			stats.Duplicate++
			return nil
		case !errors.Is(err, apperr.ErrNotFound):
			return errors.Wrapf(err, "find coupon %s", r.req.Code)
		}
	}

	_, err := im.store.Create(ctx, r.req)
	switch {
	case err == nil:
		filter.AddString(r.req.Code)
		stats.Created++
	case errors.Is(err, apperr.ErrConflict):
		stats.Duplicate++
	case errors.Is(err, apperr.ErrValidation):
		slog.Warn("invalid coupon", slog.String("file", r.file), slog.Int("line", r.line), slog.String("error", err.Error()))
		stats.Invalid++
	default:
		return errors.Wrapf(err, "create coupon %s", r.req.Code)
	}
	return nil
}

// scanFile streams path, gunzipping files ending in .gz, and sends each row
// to out.
func scanFile(ctx context.Context, path string, out chan<- record) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	scanner := bufio.NewScanner(src)
	line := 0
	for scanner.Scan() {
		line++
		req, ok, err := parseLine(scanner.Text())
		if !ok && err == nil {
			continue
		}
		select {
		case out <- record{file: path, line: line, req: req, err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// parseLine parses "CODE,PERCENT". Blank lines, comments and a
// "code,percent" header are skipped with ok=false.
func parseLine(s string) (req coupon.CreateRequest, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") {
		return req, false, nil
	}
	code, pct, found := strings.Cut(s, ",")
	if !found {
		return req, false, errors.Errorf("expected CODE,PERCENT, got %q", s)
	}
	code = strings.TrimSpace(code)
	pct = strings.TrimSpace(pct)
	if strings.EqualFold(code, "code") {
		return req, false, nil
	}
	p, err := decimal.NewFromString(pct)
	if err != nil {
		return req, false, errors.Wrapf(err, "percentage %q", pct)
	}
	return coupon.CreateRequest{Code: code, Percentage: p}, true, nil
}
