package models

import (
	"encoding/json"
	"time"
)

// LogAction identifies the payment-flow step an audit entry belongs to.
type LogAction string

const (
	ActionFormatOrder    LogAction = "formatOrder"
	ActionTokenFailed    LogAction = "tokenFailed"
	ActionQNBReply       LogAction = "qnbReply"
	ActionCheckStatus    LogAction = "checkstatus"
	ActionRecheckStatus  LogAction = "recheckstatus"
	ActionHandleWebhook  LogAction = "handle_webhook"
	ActionBinLookup      LogAction = "binLookup"
	ActionMintInvoice    LogAction = "mintInvoice"
)

// TransactionLogEntry is one append-only row of the payment audit trail.
// Data and Details are stored masked; rows are never mutated or deleted
// except by the operator bulk-truncate action.
type TransactionLogEntry struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"orderId"`
	Action    LogAction       `db:"action" json:"action"`
	Data      json.RawMessage `db:"data" json:"data,omitempty"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}
