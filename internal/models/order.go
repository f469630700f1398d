package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the platform-side payment status of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaidStatuses is the platform's "already paid" status set. Any confirmation
// handler observing one of these must be an idempotent no-op.
var PaidStatuses = map[OrderStatus]bool{
	OrderStatusPaid:       true,
	OrderStatusProcessing: true,
}

// IsPaid reports whether the status counts as already paid.
func (s OrderStatus) IsPaid() bool {
	return PaidStatuses[s]
}

// Order is the slice of the platform's order model this bridge reads and
// writes: the payment-status field, totals, and billing contact. The rest of
// the order (cart, products, fulfilment) is owned by the hosting platform.
type Order struct {
	ID           int64           `db:"id" json:"orderId"`
	OrderKey     string          `db:"order_key" json:"-"`
	Status       OrderStatus     `db:"status" json:"status"`
	Total        decimal.Decimal `db:"total" json:"total"`
	Currency     string          `db:"currency" json:"currency"`
	BillingName  string          `db:"billing_name" json:"billingName"`
	BillingEmail string          `db:"billing_email" json:"billingEmail,omitempty"`
	BillingPhone string          `db:"billing_phone" json:"billingPhone,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"-"`
}

// OrderItem is a line item with the product's optional installment cap.
// A zero InstallmentLimit means "no product-specific limit".
type OrderItem struct {
	ID               int64           `db:"id" json:"-"`
	OrderID          int64           `db:"order_id" json:"-"`
	ProductID        int64           `db:"product_id" json:"productId"`
	Name             string          `db:"name" json:"name"`
	Quantity         int             `db:"quantity" json:"quantity"`
	Price            decimal.Decimal `db:"price" json:"price"`
	InstallmentLimit int             `db:"installment_limit" json:"-"`
}

// Order meta keys written by the payment flow.
const (
	MetaPaymentCompleted = "qnbpay_payment_completed"
	MetaFailureReason    = "qnbpay_failure_reason"
	MetaAwaitingRecheck  = "qnbpay_awaiting_recheck"
	MetaAwaitingRetry    = "qnbpay_awaiting_retry"
	MetaInvoiceID        = "qnbpay_invoice_id"
)
