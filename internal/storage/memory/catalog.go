package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/product"
)

// sortedValues returns the values of m ordered by key.
func sortedValues[V any](m map[int64]V) []V {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Customers implements customer.Repository.
type Customers struct{ store *Store }

var _ customer.Repository = (*Customers)(nil)

func (r *Customers) Create(ctx context.Context, c *customer.Customer) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	for _, existing := range r.store.data.customers {
		if existing.Email == c.Email {
			return apperr.Conflict("customer with email %s already exists", c.Email)
		}
	}
	c.ID = r.store.nextID("customer")
	c.CreatedAt = r.store.now()
	if c.Tier == "" {
		c.Tier = customer.TierBasic
	}
	r.store.data.customers[c.ID] = *c
	return nil
}

func (r *Customers) Get(ctx context.Context, id int64) (*customer.Customer, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	c, ok := r.store.data.customers[id]
	if !ok {
		return nil, apperr.NotFound("customer %d not found", id)
	}
	return &c, nil
}

func (r *Customers) List(ctx context.Context) ([]customer.Customer, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	return sortedValues(r.store.data.customers), nil
}

func (r *Customers) UpdateTier(ctx context.Context, id int64, tier customer.Tier) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	c, ok := r.store.data.customers[id]
	if !ok {
		return apperr.NotFound("customer %d not found", id)
	}
	c.Tier = tier
	r.store.data.customers[id] = c
	return nil
}

// Products implements product.Repository.
type Products struct{ store *Store }

var _ product.Repository = (*Products)(nil)

func (r *Products) Create(ctx context.Context, p *product.Product) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	p.ID = r.store.nextID("product")
	r.store.data.products[p.ID] = *p
	return nil
}

func (r *Products) Get(ctx context.Context, id int64) (*product.Product, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	p, ok := r.store.data.products[id]
	if !ok {
		return nil, apperr.NotFound("product %d not found", id)
	}
	return &p, nil
}

// GetForUpdate is Get: the transaction already holds the store lock.
func (r *Products) GetForUpdate(ctx context.Context, id int64) (*product.Product, error) {
	return r.Get(ctx, id)
}

func (r *Products) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.store.data.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Products) List(ctx context.Context, includeDeleted bool) ([]product.Product, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	all := sortedValues(r.store.data.products)
	if includeDeleted {
		return all, nil
	}
	return slices.DeleteFunc(all, func(p product.Product) bool { return p.Deleted }), nil
}

func (r *Products) Update(ctx context.Context, p *product.Product) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	if _, ok := r.store.data.products[p.ID]; !ok {
		return apperr.NotFound("product %d not found", p.ID)
	}
	r.store.data.products[p.ID] = *p
	return nil
}

func (r *Products) SetStock(ctx context.Context, id int64, stock int) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	p, ok := r.store.data.products[id]
	if !ok {
		return apperr.NotFound("product %d not found", id)
	}
	p.Stock = stock
	r.store.data.products[id] = p
	return nil
}

// Coupons implements coupon.Repository.
type Coupons struct{ store *Store }

var _ coupon.Repository = (*Coupons)(nil)

func (r *Coupons) Create(ctx context.Context, c *coupon.Coupon) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	if _, ok := r.findByCode(c.Code); ok {
		return apperr.Conflict("coupon code %s already exists", c.Code)
	}
	c.ID = r.store.nextID("coupon")
	c.CreatedAt = r.store.now()
	r.store.data.coupons[c.ID] = *c
	return nil
}

func (r *Coupons) findByCode(code string) (coupon.Coupon, bool) {
	for _, c := range r.store.data.coupons {
		if c.Code == code {
			return c, true
		}
	}
	return coupon.Coupon{}, false
}

func (r *Coupons) Get(ctx context.Context, id int64) (*coupon.Coupon, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	c, ok := r.store.data.coupons[id]
	if !ok {
		return nil, apperr.NotFound("coupon %d not found", id)
	}
	return &c, nil
}

func (r *Coupons) GetForUpdate(ctx context.Context, id int64) (*coupon.Coupon, error) {
	return r.Get(ctx, id)
}

func (r *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	c, ok := r.findByCode(code)
	if !ok {
		return nil, apperr.NotFound("coupon %s not found", code)
	}
	return &c, nil
}

func (r *Coupons) FindByCodeForUpdate(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.FindByCode(ctx, code)
}

func (r *Coupons) List(ctx context.Context) ([]coupon.Coupon, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	return sortedValues(r.store.data.coupons), nil
}

func (r *Coupons) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	c, ok := r.store.data.coupons[id]
	if !ok {
		return apperr.NotFound("coupon %d not found", id)
	}
	c.Used = true
	c.UsedAt = &at
	r.store.data.coupons[id] = c
	return nil
}

// Delete removes the coupon and clears it from orders referencing it.
func (r *Coupons) Delete(ctx context.Context, id int64) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	if _, ok := r.store.data.coupons[id]; !ok {
		return apperr.NotFound("coupon %d not found", id)
	}
	delete(r.store.data.coupons, id)
	for oid, o := range r.store.data.orders {
		if o.CouponID != nil && *o.CouponID == id {
			o.CouponID = nil
			r.store.data.orders[oid] = o
		}
	}
	return nil
}

// APIKeys implements auth.Repository.
type APIKeys struct{ store *Store }

var _ auth.Repository = (*APIKeys)(nil)

func (r *APIKeys) Create(ctx context.Context, k *auth.APIKeyInfo) error {
	r.store.wlock(ctx)
	defer r.store.wunlock(ctx)
	if _, ok := r.store.data.apiKeys[k.KeyHash]; ok {
		return apperr.Conflict("api key %s already exists", k.Name)
	}
	k.ID = r.store.nextID("api_key")
	k.CreatedAt = r.store.now()
	r.store.data.apiKeys[k.KeyHash] = *k
	return nil
}

func (r *APIKeys) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.store.rlock(ctx)
	defer r.store.runlock(ctx)
	k, ok := r.store.data.apiKeys[hash]
	if !ok {
		return nil, apperr.NotFound("api key not found")
	}
	return &k, nil
}
