package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/db"
	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/product"
)

// catalog is the seed file layout.
type catalog struct {
	Products  []product.CreateRequest
	Customers []customer.CreateRequest
	Coupons   []coupon.CreateRequest
}

// readCatalog reads the catalog at path, or the embedded demo catalog when
// path is empty.
func readCatalog(path string) (*catalog, error) {
	data := db.SeedCatalog
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read catalog file")
		}
	}
	return decodeCatalog(jx.DecodeBytes(data))
}

func decodeCatalog(d *jx.Decoder) (*catalog, error) {
	var c catalog
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				var p product.CreateRequest
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "name":
						p.Name, err = d.Str()
					case "category":
						p.Category, err = d.Str()
					case "price":
						p.Price, err = decodeDecimal(d)
					case "stock":
						p.Stock, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return errors.Wrap(err, "product")
				}
				c.Products = append(c.Products, p)
				return nil
			})
		case "customers":
			return d.Arr(func(d *jx.Decoder) error {
				var cu customer.CreateRequest
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "name":
						cu.Name, err = d.Str()
					case "email":
						cu.Email, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return errors.Wrap(err, "customer")
				}
				c.Customers = append(c.Customers, cu)
				return nil
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				var cp coupon.CreateRequest
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "code":
						cp.Code, err = d.Str()
					case "discount_percentage":
						cp.Percentage, err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return errors.Wrap(err, "coupon")
				}
				c.Coupons = append(c.Coupons, cp)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return &c, nil
}

// decodeDecimal accepts both "12.50" and 12.50.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

// seeder loads a catalog through the domain services, so seeded rows pass
// the same validation as API writes.
type seeder struct {
	products  *product.Service
	customers *customer.Service
	coupons   *coupon.Ledger
	keys      auth.Repository
}

// seedCatalog is idempotent: products are only inserted into an empty
// catalog, and customers and coupons that already exist are skipped.
func (s *seeder) seedCatalog(ctx context.Context, c *catalog) error {
	existing, err := s.products.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	if len(existing) > 0 {
		slog.Info("products already seeded", slog.Int("count", len(existing)))
	} else {
		for _, req := range c.Products {
			p, err := s.products.Create(ctx, req)
			if err != nil {
				return errors.Wrapf(err, "create product %q", req.Name)
			}
			slog.Info("created product", slog.Int64("id", p.ID), slog.String("name", p.Name))
		}
	}

	for _, req := range c.Customers {
		cu, err := s.customers.Create(ctx, req)
		if errors.Is(err, apperr.ErrConflict) {
			slog.Info("customer exists", slog.String("email", req.Email))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create customer %q", req.Email)
		}
		slog.Info("created customer", slog.Int64("id", cu.ID), slog.String("email", cu.Email))
	}

	for _, req := range c.Coupons {
		cp, err := s.coupons.Create(ctx, req)
		if errors.Is(err, apperr.ErrConflict) {
			slog.Info("coupon exists", slog.String("code", req.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create coupon %q", req.Code)
		}
		slog.Info("created coupon", slog.String("code", cp.Code), slog.String("percentage", cp.Percentage.String()))
	}
	return nil
}

// seedAPIKey stores an admin key holding every scope.
func (s *seeder) seedAPIKey(ctx context.Context, apiKey string, pepper []byte) error {
	err := s.keys.Create(ctx, &auth.APIKeyInfo{
		KeyHash: auth.HashKey(pepper, apiKey),
		Name:    "admin",
		Scopes:  []string{auth.ScopeAll},
	})
	if errors.Is(err, apperr.ErrConflict) {
		slog.Info("api key exists", slog.String("name", "admin"))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "create admin api key")
	}
	slog.Info("created api key", slog.String("name", "admin"))
	return nil
}
