package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/cartline/qnbpay-bridge/internal/models"
)

// OrderRepository reads and writes the slice of the platform's order tables
// the payment bridge touches: status, meta annotations, and line items.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByID returns an order by its id.
func (r *OrderRepository) GetByID(orderID int64) (*models.Order, error) {
	const q = `
        SELECT id, order_key, status, total, currency,
               billing_name, billing_email, billing_phone, created_at, updated_at
        FROM orders WHERE id = $1 LIMIT 1`
	var o models.Order
	if err := r.db.Get(&o, q, orderID); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetItems returns the line items of an order including each product's
// installment limit (0 when the product has no override).
func (r *OrderRepository) GetItems(orderID int64) ([]models.OrderItem, error) {
	const q = `
        SELECT oi.id, oi.order_id, oi.product_id, oi.name, oi.quantity, oi.price,
               COALESCE(p.installment_limit, 0) AS installment_limit
        FROM order_items oi
        LEFT JOIN products p ON p.id = oi.product_id
        WHERE oi.order_id = $1
        ORDER BY oi.id`
	var items []models.OrderItem
	if err := r.db.Select(&items, q, orderID); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStatusIfNotPaid transitions the order status with a compare-and-swap
// against the "already paid" status set. It returns true when this caller
// performed the transition; false means another confirmation path won the
// race and the caller must treat the operation as a no-op.
func (r *OrderRepository) UpdateStatusIfNotPaid(orderID int64, status models.OrderStatus) (bool, error) {
	const q = `
        UPDATE orders SET status = $2, updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('paid', 'processing')`
	res, err := r.db.Exec(q, orderID, status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateStatus sets the order status unconditionally. Used for non-terminal
// transitions (pending with reason) where racing writers are harmless.
func (r *OrderRepository) UpdateStatus(orderID int64, status models.OrderStatus) error {
	const q = `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(q, orderID, status)
	return err
}

// SetMeta upserts a key-value annotation on an order.
func (r *OrderRepository) SetMeta(orderID int64, key, value string) error {
	const q = `
        INSERT INTO order_meta (order_id, meta_key, meta_value, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (order_id, meta_key)
        DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = NOW()`
	_, err := r.db.Exec(q, orderID, key, value)
	return err
}

// GetMeta returns the value of an order annotation, or "" when absent.
func (r *OrderRepository) GetMeta(orderID int64, key string) (string, error) {
	const q = `SELECT meta_value FROM order_meta WHERE order_id = $1 AND meta_key = $2 LIMIT 1`
	var v string
	if err := r.db.Get(&v, q, orderID, key); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// DeleteMeta removes an order annotation.
func (r *OrderRepository) DeleteMeta(orderID int64, key string) error {
	const q = `DELETE FROM order_meta WHERE order_id = $1 AND meta_key = $2`
	_, err := r.db.Exec(q, orderID, key)
	return err
}
