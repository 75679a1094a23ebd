package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/product"
)

const (
	insertCustomerSQL = `INSERT INTO customers (name, email, tier) VALUES ($1, $2, $3)
		RETURNING id, created_at`

	customerColumns = `id, name, email, tier, created_at`

	getCustomerSQL = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	listCustomersSQL = `SELECT ` + customerColumns + ` FROM customers ORDER BY id`

	updateCustomerTierSQL = `UPDATE customers SET tier = $2 WHERE id = $1`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// Create inserts c and fills its ID and CreatedAt.
func (r *CustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	if c.Tier == "" {
		c.Tier = customer.TierBasic
	}
	err := conn(ctx, r.pool).QueryRow(ctx, insertCustomerSQL, c.Name, c.Email, string(c.Tier)).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("customer with email %s already exists", c.Email)
		}
		return fmt.Errorf("inserting customer %q: %w", c.Email, err)
	}
	return nil
}

func (r *CustomerRepository) Get(ctx context.Context, id int64) (*customer.Customer, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCustomerSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("customer %d not found", id)
		}
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}
	return &c, nil
}

func (r *CustomerRepository) List(ctx context.Context) ([]customer.Customer, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCustomersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	return pgx.CollectRows(rows, scanCustomer)
}

func (r *CustomerRepository) UpdateTier(ctx context.Context, id int64, tier customer.Tier) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateCustomerTierSQL, id, string(tier))
	if err != nil {
		return fmt.Errorf("updating tier of customer %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("customer %d not found", id)
	}
	return nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var (
		c    customer.Customer
		tier string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &tier, &c.CreatedAt)
	c.Tier = customer.Tier(tier)
	return c, err
}

const (
	productColumns = `id, name, category, price, stock, deleted`

	insertProductSQL = `INSERT INTO products (name, category, price, stock) VALUES ($1, $2, $3, $4)
		RETURNING id`

	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductForUpdateSQL = getProductSQL + ` FOR UPDATE`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE $1 OR NOT deleted ORDER BY id`

	updateProductSQL = `UPDATE products SET name = $2, category = $3, price = $4, stock = $5, deleted = $6
		WHERE id = $1`

	setProductStockSQL = `UPDATE products SET stock = $2 WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertProductSQL, p.Name, p.Category, p.Price, p.Stock).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("inserting product %q: %w", p.Name, err)
	}
	return nil
}

func (r *ProductRepository) Get(ctx context.Context, id int64) (*product.Product, error) {
	return r.get(ctx, getProductSQL, id)
}

// GetForUpdate locks the product row until the transaction ends.
func (r *ProductRepository) GetForUpdate(ctx context.Context, id int64) (*product.Product, error) {
	return r.get(ctx, getProductForUpdateSQL, id)
}

func (r *ProductRepository) get(ctx context.Context, sql string, id int64) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("product %d not found", id)
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns the products matching any of ids, soft-deleted included.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *ProductRepository) List(ctx context.Context, includeDeleted bool) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listProductsSQL, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateProductSQL, p.ID, p.Name, p.Category, p.Price, p.Stock, p.Deleted)
	if err != nil {
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("product %d not found", p.ID)
	}
	return nil
}

func (r *ProductRepository) SetStock(ctx context.Context, id int64, stock int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setProductStockSQL, id, stock)
	if err != nil {
		return fmt.Errorf("setting stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("product %d not found", id)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Deleted)
	return p, err
}

const (
	couponColumns = `id, code, percentage, used, used_at, created_at`

	insertCouponSQL = `INSERT INTO coupons (code, percentage) VALUES ($1, $2)
		RETURNING id, created_at`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponForUpdateSQL = getCouponSQL + ` FOR UPDATE`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	getCouponByCodeForUpdateSQL = getCouponByCodeSQL + ` FOR UPDATE`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY id`

	markCouponUsedSQL = `UPDATE coupons SET used = TRUE, used_at = $2 WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertCouponSQL, c.Code, c.Percentage).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("coupon code %s already exists", c.Code)
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func (r *CouponRepository) Get(ctx context.Context, id int64) (*coupon.Coupon, error) {
	return r.get(ctx, getCouponSQL, id, fmt.Sprint(id))
}

func (r *CouponRepository) GetForUpdate(ctx context.Context, id int64) (*coupon.Coupon, error) {
	return r.get(ctx, getCouponForUpdateSQL, id, fmt.Sprint(id))
}

// FindByCode looks up a coupon by its exact, case-sensitive code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.get(ctx, getCouponByCodeSQL, code, code)
}

func (r *CouponRepository) FindByCodeForUpdate(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.get(ctx, getCouponByCodeForUpdateSQL, code, code)
}

func (r *CouponRepository) get(ctx context.Context, sql string, arg any, label string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %q: %w", label, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("coupon %s not found", label)
		}
		return nil, fmt.Errorf("getting coupon %q: %w", label, err)
	}
	return &c, nil
}

func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

func (r *CouponRepository) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, markCouponUsedSQL, id, at)
	if err != nil {
		return fmt.Errorf("marking coupon %d used: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("coupon %d not found", id)
	}
	return nil
}

// Delete removes the coupon. Orders referencing it keep their discount and
// lose the reference.
func (r *CouponRepository) Delete(ctx context.Context, id int64) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("coupon %d not found", id)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Percentage, &c.Used, &c.UsedAt, &c.CreatedAt)
	return c, err
}
