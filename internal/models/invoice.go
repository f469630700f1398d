package models

import "time"

// InvoiceMapping links an order to the provider-facing invoice id minted for
// one payment attempt. Rows are immutable for audit purposes; an order may
// accumulate several (one per retry or resubmission), and the most recent by
// creation time is authoritative.
type InvoiceMapping struct {
	ID            int64     `db:"id" json:"-"`
	OrderID       int64     `db:"order_id" json:"orderId"`
	CustomOrderID int64     `db:"custom_order_id" json:"customOrderId"`
	InvoiceID     string    `db:"invoice_id" json:"invoiceId"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}
