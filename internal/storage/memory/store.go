// Package memory is an in-process implementation of every settlement
// repository. A transaction holds the store's write lock for its whole
// duration and restores a snapshot when it fails.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
	"github.com/xenking/smartshop/internal/domain/product"
	"github.com/xenking/smartshop/internal/domain/txn"
)

// Store holds all records and the id sequences.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	data state
}

type state struct {
	seq       map[string]int64
	customers map[int64]customer.Customer
	products  map[int64]product.Product
	coupons   map[int64]coupon.Coupon
	orders    map[int64]order.Order
	payments  map[int64]payment.Payment
	apiKeys   map[string]auth.APIKeyInfo
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		now: func() time.Time { return time.Now().UTC() },
		data: state{
			seq:       make(map[string]int64),
			customers: make(map[int64]customer.Customer),
			products:  make(map[int64]product.Product),
			coupons:   make(map[int64]coupon.Coupon),
			orders:    make(map[int64]order.Order),
			payments:  make(map[int64]payment.Payment),
			apiKeys:   make(map[string]auth.APIKeyInfo),
		},
	}
}

func (s *Store) nextID(entity string) int64 {
	s.data.seq[entity]++
	return s.data.seq[entity]
}

// snapshot deep-copies the state. Orders own their line slices, every other
// record is a value.
func (d *state) snapshot() state {
	orders := make(map[int64]order.Order, len(d.orders))
	for id, o := range d.orders {
		orders[id] = cloneOrder(o)
	}
	return state{
		seq:       maps.Clone(d.seq),
		customers: maps.Clone(d.customers),
		products:  maps.Clone(d.products),
		coupons:   maps.Clone(d.coupons),
		orders:    orders,
		payments:  maps.Clone(d.payments),
		apiKeys:   maps.Clone(d.apiKeys),
	}
}

// transaction-aware locking helpers
type txKey struct{}

func isTx(ctx context.Context) bool {
	v, ok := ctx.Value(txKey{}).(bool)
	return ok && v
}

func (s *Store) rlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.RLock()
	}
}

func (s *Store) runlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.RUnlock()
	}
}

func (s *Store) wlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.Lock()
	}
}

func (s *Store) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.Unlock()
	}
}

var _ txn.Manager = (*Store)(nil)

// WithTransaction runs fn under the store's write lock. Repositories called
// with the context fn receives skip their own locking. If fn fails every
// write it made is rolled back. A nested call joins the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.data.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.data = saved
		return err
	}
	return nil
}

// Customers returns the customer repository.
func (s *Store) Customers() *Customers { return &Customers{store: s} }

// Products returns the product repository.
func (s *Store) Products() *Products { return &Products{store: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *Coupons { return &Coupons{store: s} }

// Orders returns the order repository.
func (s *Store) Orders() *Orders { return &Orders{store: s} }

// Payments returns the payment repository.
func (s *Store) Payments() *Payments { return &Payments{store: s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeys { return &APIKeys{store: s} }

// History returns the loyalty purchase history view.
func (s *Store) History() *History { return &History{store: s} }
