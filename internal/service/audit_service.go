package service

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/cartline/qnbpay-bridge/internal/debuglog"
	"github.com/cartline/qnbpay-bridge/internal/models"
	"github.com/cartline/qnbpay-bridge/internal/utils"
)

// logStore is the subset of the transaction log repository the audit service
// needs.
type logStore interface {
	Append(entry *models.TransactionLogEntry) error
	ListByOrder(orderID int64, limit int) ([]models.TransactionLogEntry, error)
	Truncate() error
}

// AuditService records masked payment-flow events to the append-only audit
// trail and duplicates them to the plaintext debug sink when debug mode is
// on. Recording is best-effort: a masking or storage failure is logged but
// never propagates into the payment flow.
type AuditService struct {
	logs logStore
	sink *debuglog.Sink
}

// NewAuditService constructs an AuditService.
func NewAuditService(logs logStore, sink *debuglog.Sink) *AuditService {
	return &AuditService{logs: logs, sink: sink}
}

// Record masks and appends one audit entry. data and details may be any
// JSON-marshalable values; nil is allowed for either.
func (s *AuditService) Record(orderID int64, action models.LogAction, data, details interface{}) {
	entry := &models.TransactionLogEntry{
		OrderID: orderID,
		Action:  action,
		Data:    marshalMasked(data),
		Details: marshalMasked(details),
	}
	if err := s.logs.Append(entry); err != nil {
		log.Error().Err(err).
			Int64("order_id", orderID).
			Str("action", string(action)).
			Msg("failed to append transaction log")
	}
	if s.sink.Enabled() {
		s.sink.Write(orderID, string(action), entry.Data)
	}
}

// ListByOrder returns the masked audit entries for an order.
func (s *AuditService) ListByOrder(orderID int64, limit int) ([]models.TransactionLogEntry, error) {
	return s.logs.ListByOrder(orderID, limit)
}

// Truncate clears the audit trail. Operator action.
func (s *AuditService) Truncate() error {
	return s.logs.Truncate()
}

// marshalMasked serializes a value to JSON and masks sensitive fields.
// Unmarshalable values degrade to null rather than failing the record call.
func marshalMasked(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("audit payload not serializable")
		return nil
	}
	return utils.MaskJSON(raw)
}
