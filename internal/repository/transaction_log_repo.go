package repository

import (
	"github.com/jmoiron/sqlx"

	"github.com/cartline/qnbpay-bridge/internal/models"
)

// TransactionLogRepository appends to and reads the payment audit trail.
// Entries are append-only; the only destructive operation is the operator
// bulk truncate.
type TransactionLogRepository struct {
	db *sqlx.DB
}

// NewTransactionLogRepository creates a new TransactionLogRepository.
func NewTransactionLogRepository(db *sqlx.DB) *TransactionLogRepository {
	return &TransactionLogRepository{db: db}
}

// nullableJSON converts an empty raw message to nil for proper NULL handling.
func nullableJSON(v []byte) interface{} {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Append inserts a new audit row.
func (r *TransactionLogRepository) Append(entry *models.TransactionLogEntry) error {
	const q = `
        INSERT INTO transaction_logs (order_id, action, data, details, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        RETURNING id, created_at`
	return r.db.QueryRow(q,
		entry.OrderID, entry.Action, nullableJSON(entry.Data), nullableJSON(entry.Details),
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListByOrder returns the audit entries for an order, newest first.
func (r *TransactionLogRepository) ListByOrder(orderID int64, limit int) ([]models.TransactionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
        SELECT id, order_id, action, data, details, created_at
        FROM transaction_logs WHERE order_id = $1
        ORDER BY created_at DESC, id DESC LIMIT $2`
	var entries []models.TransactionLogEntry
	if err := r.db.Select(&entries, q, orderID, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

// Truncate removes all audit entries. Operator debug action only.
func (r *TransactionLogRepository) Truncate() error {
	_, err := r.db.Exec(`TRUNCATE TABLE transaction_logs`)
	return err
}
