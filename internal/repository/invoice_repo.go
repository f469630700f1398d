package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/cartline/qnbpay-bridge/internal/models"
	"github.com/cartline/qnbpay-bridge/internal/utils"
)

// maxMintAttempts bounds the collision-retry loop for custom order ids.
const maxMintAttempts = 5

// InvoiceRepository persists the order-to-invoice mappings minted per
// payment attempt.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository creates a new InvoiceRepository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Mint generates a fresh invoice mapping for the order: a random 10-digit
// custom order id and the invoice id "<prefix>_<orderID>_<customOrderID>".
// Uniqueness is enforced by database constraints; on conflict a new random
// id is tried, up to maxMintAttempts, after which ErrExhaustedRetries is
// returned. Each successful call produces a new row.
func (r *InvoiceRepository) Mint(orderID int64, prefix string) (*models.InvoiceMapping, error) {
	const q = `
        INSERT INTO invoice_mappings (order_id, custom_order_id, invoice_id, created_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT DO NOTHING
        RETURNING id, created_at`

	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		customID, err := utils.RandomOrderNumber()
		if err != nil {
			return nil, err
		}
		m := &models.InvoiceMapping{
			OrderID:       orderID,
			CustomOrderID: customID,
			InvoiceID:     fmt.Sprintf("%s_%d_%d", prefix, orderID, customID),
		}
		err = r.db.QueryRow(q, m.OrderID, m.CustomOrderID, m.InvoiceID).
			Scan(&m.ID, &m.CreatedAt)
		if err == sql.ErrNoRows {
			// Unique conflict: re-roll.
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, utils.ErrExhaustedRetries
}

// GetByOrderID returns the most recent mapping for an order.
func (r *InvoiceRepository) GetByOrderID(orderID int64) (*models.InvoiceMapping, error) {
	const q = `
        SELECT id, order_id, custom_order_id, invoice_id, created_at
        FROM invoice_mappings WHERE order_id = $1
        ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.getOne(q, orderID)
}

// GetByCustomOrderID returns the most recent mapping with the custom order id.
func (r *InvoiceRepository) GetByCustomOrderID(customOrderID int64) (*models.InvoiceMapping, error) {
	const q = `
        SELECT id, order_id, custom_order_id, invoice_id, created_at
        FROM invoice_mappings WHERE custom_order_id = $1
        ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.getOne(q, customOrderID)
}

// GetByInvoiceID returns the most recent mapping with the invoice id.
func (r *InvoiceRepository) GetByInvoiceID(invoiceID string) (*models.InvoiceMapping, error) {
	const q = `
        SELECT id, order_id, custom_order_id, invoice_id, created_at
        FROM invoice_mappings WHERE invoice_id = $1
        ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.getOne(q, invoiceID)
}

func (r *InvoiceRepository) getOne(q string, arg interface{}) (*models.InvoiceMapping, error) {
	var m models.InvoiceMapping
	if err := r.db.Get(&m, q, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrMappingNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ParseInvoiceID splits an invoice id into its three required segments and
// recovers the order id. Webhooks and redirects often return only the
// invoice id; anything without exactly 3 '_'-delimited parts is rejected as
// an invalid payload.
func ParseInvoiceID(invoiceID string) (orderID int64, customOrderID int64, err error) {
	parts := strings.Split(invoiceID, "_")
	if len(parts) != 3 {
		return 0, 0, utils.ErrInvalidPayload
	}
	orderID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, utils.ErrInvalidPayload
	}
	customOrderID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, utils.ErrInvalidPayload
	}
	return orderID, customOrderID, nil
}
