package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cartline/qnbpay-bridge/internal/cache"
	"github.com/cartline/qnbpay-bridge/internal/config"
	"github.com/cartline/qnbpay-bridge/internal/models"
	"github.com/cartline/qnbpay-bridge/internal/repository"
	"github.com/cartline/qnbpay-bridge/internal/utils"
	"github.com/cartline/qnbpay-bridge/pkg/qnbpay"
)

// Gateway is the provider-client surface the state machine depends on.
type Gateway interface {
	GetToken(ctx context.Context) (string, error)
	GetPos(ctx context.Context, token, cardBIN string, amount decimal.Decimal, currency string) (*qnbpay.PosResponse, error)
	GetCommissions(ctx context.Context, token, currency string) (*qnbpay.CommissionResponse, error)
	CheckStatus(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error)
	BuildChargeForm(req *qnbpay.ChargeRequest) *qnbpay.ChargeForm
	MerchantKey() string
	AppSecret() string
}

// OrderStore is the slice of the order repository the state machine uses.
type OrderStore interface {
	GetByID(orderID int64) (*models.Order, error)
	GetItems(orderID int64) ([]models.OrderItem, error)
	UpdateStatusIfNotPaid(orderID int64, status models.OrderStatus) (bool, error)
	UpdateStatus(orderID int64, status models.OrderStatus) error
	SetMeta(orderID int64, key, value string) error
	GetMeta(orderID int64, key string) (string, error)
	DeleteMeta(orderID int64, key string) error
}

// InvoiceStore mints and resolves order/invoice mappings.
type InvoiceStore interface {
	Mint(orderID int64, prefix string) (*models.InvoiceMapping, error)
	GetByOrderID(orderID int64) (*models.InvoiceMapping, error)
	GetByInvoiceID(invoiceID string) (*models.InvoiceMapping, error)
}

// TokenStore caches acquired gateway tokens.
type TokenStore interface {
	Get(ctx context.Context, merchantKey string) (string, error)
	Set(ctx context.Context, merchantKey, token string) error
}

// FormStore holds the rendered auto-submit charge form per order.
type FormStore interface {
	Set(ctx context.Context, form *cache.StoredForm) error
	Get(ctx context.Context, orderID int64) (*cache.StoredForm, error)
	Delete(ctx context.Context, orderID int64) error
}

// Outcome classifies where a confirmation entry point left the order.
type Outcome string

const (
	// OutcomeSuccess: the order is confirmed paid (possibly by an earlier
	// racing path; the caller redirects to the receipt either way).
	OutcomeSuccess Outcome = "success"
	// OutcomeRetry: the charge was rejected or not yet confirmed; the buyer
	// is sent back to the payment page to resubmit with fresh user action.
	OutcomeRetry Outcome = "retry"
	// OutcomeRecheck: status verification failed on transport; the client
	// must poll rather than resubmit the form.
	OutcomeRecheck Outcome = "recheck"
	// OutcomeFailed: the provider authoritatively declined the charge; the
	// order is terminally failed and only a fresh checkout can revive it.
	OutcomeFailed Outcome = "failed"
)

// ReturnResult is the decision a confirmation entry point hands back to its
// HTTP handler.
type ReturnResult struct {
	Outcome Outcome
	Reason  string
}

// PaymentService orchestrates a single order's payment lifecycle across the
// three racing entry points: synchronous checkout, browser redirect return,
// and the asynchronous provider webhook. It is request-scoped; the only
// cross-request state lives in the stores it is constructed with.
type PaymentService struct {
	gateway        Gateway
	orders         OrderStore
	invoices       InvoiceStore
	tokens         TokenStore
	forms          FormStore
	installmentSvc *InstallmentService
	audit          *AuditService
	cfg            config.QNBPayConfig
	publicBaseURL  string
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(
	gateway Gateway,
	orders OrderStore,
	invoices InvoiceStore,
	tokens TokenStore,
	forms FormStore,
	installmentSvc *InstallmentService,
	audit *AuditService,
	cfg config.QNBPayConfig,
	publicBaseURL string,
) *PaymentService {
	return &PaymentService{
		gateway:        gateway,
		orders:         orders,
		invoices:       invoices,
		tokens:         tokens,
		forms:          forms,
		installmentSvc: installmentSvc,
		audit:          audit,
		cfg:            cfg,
		publicBaseURL:  publicBaseURL,
	}
}

// getToken returns a cached gateway token or acquires a fresh one. Successful
// tokens are cached for one hour; failures are never cached, so every caller
// retries immediately. A token the provider has independently revoked stays
// cached until TTL expiry and surfaces as a normal call failure downstream.
func (s *PaymentService) getToken(ctx context.Context) (string, error) {
	token, err := s.tokens.Get(ctx, s.gateway.MerchantKey())
	if err != nil {
		log.Warn().Err(err).Msg("token cache read failed")
	}
	if token != "" {
		return token, nil
	}

	token, err = s.gateway.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrAuthFailure, err)
	}
	if err := s.tokens.Set(ctx, s.gateway.MerchantKey(), token); err != nil {
		log.Warn().Err(err).Msg("token cache write failed")
	}
	return token, nil
}

// CheckoutInput is the buyer's form submission.
type CheckoutInput struct {
	OrderID      int64
	OrderKey     string
	HolderName   string
	CardNumber   string
	ExpiryMonth  string
	ExpiryYear   string
	CVV          string
	Installments int
}

// CheckoutResult tells the handler where to send the buyer's browser.
type CheckoutResult struct {
	RedirectURL string
	InvoiceID   string
}

// Checkout is the synchronous form-submission entry point. It validates
// input, resolves the installment policy, acquires a token (hard stop on
// failure, before any charge is attempted), performs the BIN lookup, mints
// an invoice mapping, builds and stores the signed auto-submit charge form,
// and returns the relay URL for the buyer's browser.
func (s *PaymentService) Checkout(ctx context.Context, in *CheckoutInput) (*CheckoutResult, error) {
	order, err := s.loadOrder(in.OrderID, in.OrderKey)
	if err != nil {
		return nil, err
	}
	if order.Status.IsPaid() {
		return nil, utils.ErrAlreadyProcessed
	}

	if err := validateCard(in); err != nil {
		return nil, err
	}

	items, err := s.orders.GetItems(order.ID)
	if err != nil {
		return nil, err
	}
	maxInstallments := s.installmentSvc.MaxInstallments(order, items)

	// Token failure here is surfaced to the buyer before any charge attempt.
	token, err := s.getToken(ctx)
	if err != nil {
		s.audit.Record(order.ID, models.ActionTokenFailed, map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		}, nil)
		return nil, err
	}

	cardBIN := in.CardNumber[:8]
	pos, err := s.gateway.GetPos(ctx, token, cardBIN, order.Total, order.Currency)
	if err != nil {
		s.audit.Record(order.ID, models.ActionBinLookup, map[string]any{
			"card_bin": cardBIN,
			"amount":   order.Total.StringFixed(2),
			"error":    err.Error(),
		}, nil)
		return nil, fmt.Errorf("%w: %v", utils.ErrLookupFailure, err)
	}

	installments := s.installmentSvc.Reconcile(in.Installments, pos.InstallmentNumbers(), maxInstallments)
	s.audit.Record(order.ID, models.ActionBinLookup, map[string]any{
		"card_bin":     cardBIN,
		"card_program": pos.CardProgram,
		"options":      pos.InstallmentNumbers(),
		"selected":     installments,
	}, nil)

	mapping, err := s.invoices.Mint(order.ID, s.cfg.OrderPrefix)
	if err != nil {
		return nil, err
	}
	if err := s.orders.SetMeta(order.ID, models.MetaInvoiceID, mapping.InvoiceID); err != nil {
		return nil, err
	}
	s.audit.Record(order.ID, models.ActionMintInvoice, map[string]any{
		"invoice_id":      mapping.InvoiceID,
		"custom_order_id": mapping.CustomOrderID,
	}, nil)

	hashKey, err := qnbpay.EncodePaymentResult(s.gateway.AppSecret(), &qnbpay.PaymentResult{
		Status:       1,
		Total:        order.Total.StringFixed(2),
		InvoiceID:    mapping.InvoiceID,
		OrderID:      fmt.Sprintf("%d", order.ID),
		CurrencyCode: order.Currency,
	})
	if err != nil {
		return nil, err
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	chargeReq := &qnbpay.ChargeRequest{
		HolderName:         in.HolderName,
		CardNumber:         in.CardNumber,
		ExpiryMonth:        in.ExpiryMonth,
		ExpiryYear:         in.ExpiryYear,
		CVV:                in.CVV,
		Total:              order.Total.StringFixed(2),
		CurrencyCode:       order.Currency,
		InstallmentsNumber: installments,
		InvoiceID:          mapping.InvoiceID,
		InvoiceDescription: fmt.Sprintf("Order #%d", order.ID),
		Items:              string(itemsJSON),
		ReturnURL:          s.returnURL(order),
		CancelURL:          s.returnURL(order),
		HashKey:            hashKey,
		ThreeD:             s.cfg.ThreeD,
	}
	html, err := s.gateway.BuildChargeForm(chargeReq).Render()
	if err != nil {
		return nil, err
	}

	if err := s.forms.Set(ctx, &cache.StoredForm{
		OrderID:   order.ID,
		OrderKey:  order.OrderKey,
		InvoiceID: mapping.InvoiceID,
		HTML:      html,
	}); err != nil {
		return nil, err
	}

	s.audit.Record(order.ID, models.ActionFormatOrder, map[string]any{
		"invoice_id":          mapping.InvoiceID,
		"total":               order.Total.StringFixed(2),
		"currency_code":       order.Currency,
		"installments_number": installments,
		"cc_holder_name":      in.HolderName,
		"cc_no":               in.CardNumber,
		"hash_key":            hashKey,
	}, nil)

	return &CheckoutResult{
		RedirectURL: s.formRelayURL(order),
		InvoiceID:   mapping.InvoiceID,
	}, nil
}

// ServeForm replays the stored charge form for the relay endpoint. Nothing
// is re-derived; the handler serves the HTML verbatim.
func (s *PaymentService) ServeForm(ctx context.Context, orderID int64, orderKey string) (string, error) {
	form, err := s.forms.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if form == nil {
		return "", utils.ErrMappingNotFound
	}
	if form.OrderKey != orderKey {
		return "", utils.ErrInvalidOrderKey
	}
	return form.HTML, nil
}

// ReturnParams are the provider's redirect-return parameters.
type ReturnParams struct {
	PaymentStatus string
	InvoiceID     string
	Error         string
}

// HandleReturn is the browser redirect-return entry point. The returned
// payment_status is never trusted as proof of payment: only an authoritative
// checkstatus success completes the order.
func (s *PaymentService) HandleReturn(ctx context.Context, orderID int64, orderKey string, params *ReturnParams) (*ReturnResult, error) {
	order, err := s.loadOrder(orderID, orderKey)
	if err != nil {
		return nil, err
	}
	if order.Status.IsPaid() {
		return &ReturnResult{Outcome: OutcomeSuccess}, nil
	}

	s.audit.Record(order.ID, models.ActionQNBReply, map[string]any{
		"payment_status": params.PaymentStatus,
		"invoice_id":     params.InvoiceID,
		"error":          params.Error,
	}, nil)

	// Provider-declared rejection via the browser redirect. The redirect is
	// untrusted, so it never terminally fails the order; only an
	// authoritative checkstatus decline does.
	if params.PaymentStatus == "0" {
		reason := params.Error
		if reason == "" {
			reason = "payment rejected by provider"
		}
		s.markPendingRetry(order.ID, reason)
		return &ReturnResult{Outcome: OutcomeRetry, Reason: reason}, nil
	}

	if params.InvoiceID == "" {
		reason := "provider returned no invoice id"
		s.markPendingRetry(order.ID, reason)
		return &ReturnResult{Outcome: OutcomeRetry, Reason: reason}, nil
	}

	return s.verifyAndComplete(ctx, order, params.InvoiceID, models.ActionCheckStatus), nil
}

// HandleWebhook is the asynchronous server-to-server entry point. The
// webhook's own payment_status field is only a trigger to verify: completion
// requires an independent checkstatus success, mirroring the redirect path.
//
// Error mapping for the HTTP handler: ErrInvalidPayload means a bad hash
// (403); ErrValidationError means missing fields or a malformed invoice id
// (400); ErrOrderNotFound and ErrAlreadyProcessed are acknowledged with 200;
// ErrLookupFailure means an internal lookup failed and the provider may
// safely retry (500).
func (s *PaymentService) HandleWebhook(ctx context.Context, payload *qnbpay.WebhookPayload) error {
	if payload.InvoiceID == "" || payload.HashKey == "" {
		return utils.ErrValidationError
	}

	// The hash key must decode under our app secret; anything else is a
	// forged or corrupted notification.
	if _, err := qnbpay.DecodeHashKey(s.gateway.AppSecret(), payload.HashKey); err != nil {
		return utils.ErrInvalidPayload
	}

	orderID, _, err := repository.ParseInvoiceID(payload.InvoiceID)
	if err != nil {
		return utils.ErrValidationError
	}

	order, err := s.orders.GetByID(orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn().Int64("order_id", orderID).Str("invoice_id", payload.InvoiceID).
				Msg("webhook for unknown order")
			return utils.ErrOrderNotFound
		}
		return fmt.Errorf("%w: %v", utils.ErrLookupFailure, err)
	}

	s.audit.Record(order.ID, models.ActionHandleWebhook, map[string]any{
		"invoice_id":       payload.InvoiceID,
		"payment_status":   payload.PaymentStatus,
		"transaction_type": payload.TransactionType,
		"order_no":         payload.OrderNo,
		"hash_key":         payload.HashKey,
	}, nil)

	if order.Status.IsPaid() {
		return utils.ErrAlreadyProcessed
	}

	result := s.verifyAndComplete(ctx, order, payload.InvoiceID, models.ActionHandleWebhook)
	if result.Outcome == OutcomeRecheck {
		// Transport failure against the provider: let the provider retry.
		return fmt.Errorf("%w: status verification unavailable", utils.ErrLookupFailure)
	}
	return nil
}

// Recheck is the client-driven poll behind the "recheck" browser flow. It is
// idempotent against repeated calls.
func (s *PaymentService) Recheck(ctx context.Context, orderID int64, orderKey string) (*ReturnResult, error) {
	order, err := s.loadOrder(orderID, orderKey)
	if err != nil {
		return nil, err
	}
	if order.Status.IsPaid() {
		return &ReturnResult{Outcome: OutcomeSuccess}, nil
	}

	mapping, err := s.invoices.GetByOrderID(order.ID)
	if err != nil {
		if errors.Is(err, utils.ErrMappingNotFound) {
			return &ReturnResult{Outcome: OutcomeRetry, Reason: "no payment attempt found"}, nil
		}
		return nil, err
	}

	return s.verifyAndComplete(ctx, order, mapping.InvoiceID, models.ActionRecheckStatus), nil
}

// verifyAndComplete performs the authoritative checkstatus call and applies
// the at-most-once completion. Both the redirect and webhook paths funnel
// through here; the compare-and-swap on order status guarantees a single
// winner when they race.
func (s *PaymentService) verifyAndComplete(ctx context.Context, order *models.Order, invoiceID string, action models.LogAction) *ReturnResult {
	token, err := s.getToken(ctx)
	if err != nil {
		s.audit.Record(order.ID, models.ActionTokenFailed, map[string]any{"error": err.Error()}, nil)
		s.markRecheck(order.ID)
		return &ReturnResult{Outcome: OutcomeRecheck, Reason: "token acquisition failed"}
	}

	status, err := s.gateway.CheckStatus(ctx, token, invoiceID, true)
	if err != nil {
		// Transport failure is not a rejection: flag the client to poll
		// instead of resubmitting the form.
		s.audit.Record(order.ID, action, map[string]any{
			"invoice_id": invoiceID,
			"error":      err.Error(),
		}, nil)
		s.markRecheck(order.ID)
		return &ReturnResult{Outcome: OutcomeRecheck, Reason: "status check unavailable"}
	}

	s.audit.Record(order.ID, action, map[string]any{
		"invoice_id":  invoiceID,
		"status_code": status.StatusCode,
		"mdStatus":    status.MdStatus,
		"description": status.StatusDescription,
	}, nil)

	if status.Paid() {
		return s.complete(order, invoiceID)
	}

	// An authoritative decline terminates the attempt. Pending and verdicts
	// the provider never gave stay retryable.
	if status.Declined() {
		reason := status.StatusDescription
		if reason == "" {
			reason = "payment declined by provider"
		}
		if !s.markFailed(order.ID, reason) {
			// A racing confirmation path completed the order first.
			return &ReturnResult{Outcome: OutcomeSuccess}
		}
		return &ReturnResult{Outcome: OutcomeFailed, Reason: reason}
	}

	reason := status.StatusDescription
	if reason == "" {
		reason = "payment not confirmed"
	}
	s.markPendingRetry(order.ID, reason)
	return &ReturnResult{Outcome: OutcomeRetry, Reason: reason}
}

// complete finalizes a confirmed payment exactly once. The status CAS is the
// single-writer guard: the losing racer observes no transition and treats
// the call as an idempotent no-op success.
func (s *PaymentService) complete(order *models.Order, invoiceID string) *ReturnResult {
	successStatus := models.OrderStatus(s.cfg.SuccessOrderStatus)
	won, err := s.orders.UpdateStatusIfNotPaid(order.ID, successStatus)
	if err != nil {
		log.Error().Err(err).Int64("order_id", order.ID).Msg("status transition failed")
		s.markRecheck(order.ID)
		return &ReturnResult{Outcome: OutcomeRecheck, Reason: "completion failed"}
	}
	if !won {
		// Another confirmation path completed first.
		return &ReturnResult{Outcome: OutcomeSuccess}
	}

	if err := s.orders.SetMeta(order.ID, models.MetaPaymentCompleted, time.Now().Format(time.RFC3339)); err != nil {
		log.Error().Err(err).Int64("order_id", order.ID).Msg("failed to annotate completion")
	}
	_ = s.orders.DeleteMeta(order.ID, models.MetaAwaitingRetry)
	_ = s.orders.DeleteMeta(order.ID, models.MetaAwaitingRecheck)
	_ = s.orders.DeleteMeta(order.ID, models.MetaFailureReason)

	log.Info().Int64("order_id", order.ID).Str("invoice_id", invoiceID).Msg("payment completed")
	return &ReturnResult{Outcome: OutcomeSuccess}
}

// markFailed puts the order in the terminal failed state with the provider's
// decline reason. It reports false when the status CAS loses: a racing
// confirmation already completed the order, and paid always beats failed.
func (s *PaymentService) markFailed(orderID int64, reason string) bool {
	won, err := s.orders.UpdateStatusIfNotPaid(orderID, models.OrderStatusFailed)
	if err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("failed to mark order failed")
		return true
	}
	if !won {
		return false
	}
	_ = s.orders.SetMeta(orderID, models.MetaFailureReason, reason)
	_ = s.orders.DeleteMeta(orderID, models.MetaAwaitingRetry)
	_ = s.orders.DeleteMeta(orderID, models.MetaAwaitingRecheck)
	log.Info().Int64("order_id", orderID).Str("reason", reason).Msg("payment declined")
	return true
}

// markPendingRetry puts the order in the non-terminal pending state with the
// provider's reason and flags the buyer-facing retry path.
func (s *PaymentService) markPendingRetry(orderID int64, reason string) {
	if err := s.orders.UpdateStatus(orderID, models.OrderStatusPending); err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("failed to mark order pending")
	}
	_ = s.orders.SetMeta(orderID, models.MetaFailureReason, reason)
	_ = s.orders.SetMeta(orderID, models.MetaAwaitingRetry, "1")
	_ = s.orders.DeleteMeta(orderID, models.MetaAwaitingRecheck)
}

// markRecheck flags the order for client-driven polling after a transport
// failure. Distinct from the retry flag: the client must poll, not resubmit.
func (s *PaymentService) markRecheck(orderID int64) {
	if err := s.orders.UpdateStatus(orderID, models.OrderStatusPending); err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("failed to mark order pending")
	}
	_ = s.orders.SetMeta(orderID, models.MetaAwaitingRecheck, "1")
}

// loadOrder fetches the order and validates the order key.
func (s *PaymentService) loadOrder(orderID int64, orderKey string) (*models.Order, error) {
	order, err := s.orders.GetByID(orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, err
	}
	if orderKey == "" || order.OrderKey != orderKey {
		return nil, utils.ErrInvalidOrderKey
	}
	return order, nil
}

func (s *PaymentService) returnURL(order *models.Order) string {
	return fmt.Sprintf("%s/v1/pay/return/%d?key=%s", s.publicBaseURL, order.ID, order.OrderKey)
}

func (s *PaymentService) formRelayURL(order *models.Order) string {
	return fmt.Sprintf("%s/v1/pay/form/%d?key=%s", s.publicBaseURL, order.ID, order.OrderKey)
}

// validateCard rejects missing or malformed card input before any network
// call is made.
func validateCard(in *CheckoutInput) error {
	digits := strings.ReplaceAll(in.CardNumber, " ", "")
	if len(digits) < 12 || len(digits) > 19 || !allDigits(digits) {
		return fmt.Errorf("%w: invalid card number", utils.ErrValidationError)
	}
	in.CardNumber = digits

	if strings.TrimSpace(in.HolderName) == "" {
		return fmt.Errorf("%w: card holder name is required", utils.ErrValidationError)
	}
	if len(in.ExpiryMonth) != 2 || !allDigits(in.ExpiryMonth) {
		return fmt.Errorf("%w: invalid expiry month", utils.ErrValidationError)
	}
	if len(in.ExpiryYear) != 2 && len(in.ExpiryYear) != 4 || !allDigits(in.ExpiryYear) {
		return fmt.Errorf("%w: invalid expiry year", utils.ErrValidationError)
	}
	if len(in.CVV) < 3 || len(in.CVV) > 4 || !allDigits(in.CVV) {
		return fmt.Errorf("%w: invalid cvv", utils.ErrValidationError)
	}
	if in.Installments < 1 {
		in.Installments = 1
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
