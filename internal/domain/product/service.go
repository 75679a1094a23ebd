package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/txn"
)

// CreateRequest holds the input for adding a product to the catalog.
type CreateRequest struct {
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int
}

// UpdateRequest holds optional catalog edits. Nil fields are left unchanged.
// Stock is an administrative restock, not a settlement deduction.
type UpdateRequest struct {
	Name     *string
	Category *string
	Price    *decimal.Decimal
	Stock    *int
}

// Service manages the product catalog.
type Service struct {
	tx       txn.Manager
	products Repository
}

// NewService creates a product Service.
func NewService(tx txn.Manager, products Repository) *Service {
	return &Service{tx: tx, products: products}
}

// Create validates and persists a new product.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Product, error) {
	p := &Product{
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
		Price:    req.Price,
		Stock:    req.Stock,
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return p, nil
}

// Get returns a product by id, including soft-deleted ones.
func (s *Service) Get(ctx context.Context, id int64) (*Product, error) {
	return s.products.Get(ctx, id)
}

// List returns the live catalog.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	return s.products.List(ctx, false)
}

// Update applies req to a live product.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Product, error) {
	var updated *Product
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.products.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Deleted {
			return apperr.NotFound("product %d not found", id)
		}
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Category != nil {
			p.Category = strings.TrimSpace(*req.Category)
		}
		if req.Price != nil {
			p.Price = *req.Price
		}
		if req.Stock != nil {
			p.Stock = *req.Stock
		}
		if err := validate(p); err != nil {
			return err
		}
		if err := s.products.Update(ctx, p); err != nil {
			return errors.Wrap(err, "update product")
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete soft-deletes a product. Existing orders keep their line snapshots.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.products.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Deleted {
			return nil
		}
		p.Deleted = true
		return s.products.Update(ctx, p)
	})
}

func validate(p *Product) error {
	if p.Name == "" {
		return apperr.Validation("product name required")
	}
	if !p.Price.IsPositive() {
		return apperr.Validation("price must be greater than 0")
	}
	if !p.Price.Equal(p.Price.Round(2)) {
		return apperr.Validation("price %s has more than 2 decimal places", p.Price)
	}
	if p.Stock < 0 {
		return apperr.Validation("stock must not be negative")
	}
	return nil
}
