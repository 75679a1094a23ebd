package customer

import (
	"context"
	"net/mail"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/smartshop/internal/domain/apperr"
)

// CreateRequest holds the input for registering a customer.
type CreateRequest struct {
	Name  string
	Email string
}

// Service manages customer records.
type Service struct {
	customers Repository
}

// NewService creates a customer Service.
func NewService(customers Repository) *Service {
	return &Service{customers: customers}
}

// Create registers a new customer at the BASIC tier.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("customer name required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, apperr.Validation("invalid email %q", req.Email)
	}

	c := &Customer{
		Name:  name,
		Email: strings.ToLower(strings.TrimSpace(req.Email)),
		Tier:  TierBasic,
	}
	if err := s.customers.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create customer")
	}
	return c, nil
}

// Get returns a customer by id.
func (s *Service) Get(ctx context.Context, id int64) (*Customer, error) {
	return s.customers.Get(ctx, id)
}

// List returns all customers.
func (s *Service) List(ctx context.Context) ([]Customer, error) {
	return s.customers.List(ctx)
}
