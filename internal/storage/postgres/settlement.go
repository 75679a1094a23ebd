package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/loyalty"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
)

const (
	orderColumns = `id, customer_id, status, subtotal, loyalty_discount, coupon_discount,
		tax_rate, tax, total, remaining, coupon_id, coupon_code, created_at`

	insertOrderSQL = `INSERT INTO orders (customer_id, status, subtotal, loyalty_discount,
		coupon_discount, tax_rate, tax, total, remaining, coupon_id, coupon_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	insertOrderLineSQL = `INSERT INTO order_lines (order_id, position, product_id, product_name,
		unit_price, quantity, line_total) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at, id`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 ORDER BY created_at, id`

	listOrdersByStatusSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1 ORDER BY created_at, id`

	listOrderLinesSQL = `SELECT order_id, product_id, product_name, unit_price, quantity, line_total
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderSQL = `UPDATE orders SET status = $2, remaining = $3 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Lines
// live in order_lines and are loaded alongside their order.
type OrderRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, tx: NewTxManager(pool)}
}

// Create inserts the order and its lines in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		err := q.QueryRow(ctx, insertOrderSQL,
			o.CustomerID, string(o.Status), o.Subtotal, o.LoyaltyDiscount, o.CouponDiscount,
			o.TaxRate, o.Tax, o.Total, o.Remaining, o.CouponID, o.CouponCode,
		).Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperr.NotFound("customer %d not found", o.CustomerID)
			}
			return fmt.Errorf("inserting order for customer %d: %w", o.CustomerID, err)
		}

		batch := &pgx.Batch{}
		for i, l := range o.Lines {
			batch.Queue(insertOrderLineSQL, o.ID, i+1, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity, l.Total)
		}
		tx, ok := q.(pgx.Tx)
		if !ok {
			return errors.New("order lines require a transaction")
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting lines of order %d: %w", o.ID, err)
		}
		return nil
	})
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate locks the order row until the transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, sql string, id int64) (*order.Order, error) {
	orders, err := r.query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, apperr.NotFound("order %d not found", id)
	}
	return &orders[0], nil
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderSQL, o.ID, string(o.Status), o.Remaining)
	if err != nil {
		return fmt.Errorf("updating order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order %d not found", o.ID)
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	orders, err := r.query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID int64) ([]order.Order, error) {
	orders, err := r.query(ctx, listOrdersByCustomerSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %d: %w", customerID, err)
	}
	return orders, nil
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	orders, err := r.query(ctx, listOrdersByStatusSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing %s orders: %w", status, err)
	}
	return orders, nil
}

// query collects the orders returned by sql and attaches their lines.
func (r *OrderRepository) query(ctx context.Context, sql string, args ...any) ([]order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err = q.Query(ctx, listOrderLinesSQL, ids)
	if err != nil {
		return nil, err
	}
	var (
		orderID int64
		line    order.Line
	)
	_, err = pgx.ForEachRow(rows,
		[]any{&orderID, &line.ProductID, &line.ProductName, &line.UnitPrice, &line.Quantity, &line.Total},
		func() error {
			i := index[orderID]
			orders[i].Lines = append(orders[i].Lines, line)
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &status, &o.Subtotal, &o.LoyaltyDiscount, &o.CouponDiscount,
		&o.TaxRate, &o.Tax, &o.Total, &o.Remaining, &o.CouponID, &o.CouponCode, &o.CreatedAt)
	o.Status = order.Status(status)
	return o, err
}

const (
	paymentColumns = `id, order_id, number, amount, method, status, reference, bank_name,
		paid_at, collected_at, due_date, created_at`

	insertPaymentSQL = `INSERT INTO payments (order_id, number, amount, method, status, reference,
		bank_name, paid_at, collected_at, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	getPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	listPaymentsByOrderSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 ORDER BY number`

	countPaymentsByOrderSQL = `SELECT count(*) FROM payments WHERE order_id = $1`

	listPaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments ORDER BY id`

	updatePaymentSQL = `UPDATE payments SET status = $2, reference = $3, bank_name = $4,
		collected_at = $5, due_date = $6 WHERE id = $1`

	deletePaymentSQL = `DELETE FROM payments WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertPaymentSQL,
		p.OrderID, p.Number, p.Amount, string(p.Method), string(p.Status), p.Reference,
		p.BankName, p.PaidAt, p.CollectedAt, p.DueDate,
	).Scan(&p.ID, &p.CreatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return apperr.Conflict("payment #%d of order %d already exists", p.Number, p.OrderID)
	case isForeignKeyViolation(err):
		return apperr.NotFound("order %d not found", p.OrderID)
	default:
		return fmt.Errorf("inserting payment #%d of order %d: %w", p.Number, p.OrderID, err)
	}
}

func (r *PaymentRepository) Get(ctx context.Context, id int64) (*payment.Payment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getPaymentSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment %d not found", id)
		}
		return nil, fmt.Errorf("getting payment %d: %w", id, err)
	}
	return &p, nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID int64) ([]payment.Payment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listPaymentsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing payments of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

func (r *PaymentRepository) CountByOrder(ctx context.Context, orderID int64) (int, error) {
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, countPaymentsByOrderSQL, orderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting payments of order %d: %w", orderID, err)
	}
	return n, nil
}

func (r *PaymentRepository) List(ctx context.Context) ([]payment.Payment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listPaymentsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updatePaymentSQL,
		p.ID, string(p.Status), p.Reference, p.BankName, p.CollectedAt, p.DueDate)
	if err != nil {
		return fmt.Errorf("updating payment %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payment %d not found", p.ID)
	}
	return nil
}

func (r *PaymentRepository) Delete(ctx context.Context, id int64) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, deletePaymentSQL, id)
	if err != nil {
		return fmt.Errorf("deleting payment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payment %d not found", id)
	}
	return nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p              payment.Payment
		method, status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Number, &p.Amount, &method, &status, &p.Reference,
		&p.BankName, &p.PaidAt, &p.CollectedAt, &p.DueDate, &p.CreatedAt)
	p.Method = payment.Method(method)
	p.Status = payment.Status(status)
	return p, err
}

const (
	lifetimeSpendSQL = `SELECT COALESCE(SUM(p.amount), 0)
		FROM payments p JOIN orders o ON o.id = p.order_id
		WHERE o.customer_id = $1`

	confirmedOrderCountSQL = `SELECT count(*) FROM orders WHERE customer_id = $1 AND status = 'CONFIRMED'`
)

var _ loyalty.History = (*HistoryRepository)(nil)

// HistoryRepository aggregates a customer's settlement history for tier
// evaluation.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) LifetimeSpend(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := conn(ctx, r.pool).QueryRow(ctx, lifetimeSpendSQL, customerID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("summing spend of customer %d: %w", customerID, err)
	}
	return total, nil
}

func (r *HistoryRepository) ConfirmedOrderCount(ctx context.Context, customerID int64) (int, error) {
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, confirmedOrderCountSQL, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting confirmed orders of customer %d: %w", customerID, err)
	}
	return n, nil
}

const (
	insertAPIKeySQL = `INSERT INTO api_keys (key_hash, name, scopes, customer_id)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	findAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes, customer_id, created_at
		FROM api_keys WHERE key_hash = $1`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository implements auth.Repository backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *auth.APIKeyInfo) error {
	scopes := key.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	err := conn(ctx, r.pool).QueryRow(ctx, insertAPIKeySQL, key.KeyHash, key.Name, scopes, key.CustomerID).
		Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("api key %q already exists", key.Name)
		}
		return fmt.Errorf("inserting api key %q: %w", key.Name, err)
	}
	return nil
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var info auth.APIKeyInfo
	err := conn(ctx, r.pool).QueryRow(ctx, findAPIKeyByHashSQL, hash).
		Scan(&info.ID, &info.KeyHash, &info.Name, &info.Scopes, &info.CustomerID, &info.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("api key not found")
		}
		return nil, fmt.Errorf("finding api key: %w", err)
	}
	return &info, nil
}
