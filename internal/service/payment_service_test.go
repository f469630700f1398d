package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cartline/qnbpay-bridge/internal/config"
	"github.com/cartline/qnbpay-bridge/internal/debuglog"
	"github.com/cartline/qnbpay-bridge/internal/models"
	"github.com/cartline/qnbpay-bridge/internal/utils"
	"github.com/cartline/qnbpay-bridge/pkg/qnbpay"
)

type paymentFixture struct {
	svc      *PaymentService
	gateway  *mockGateway
	orders   *mockOrderStore
	invoices *mockInvoiceStore
	tokens   *mockTokenStore
	forms    *mockFormStore
	logs     *mockLogStore
}

func newPaymentFixture(order *models.Order) *paymentFixture {
	f := &paymentFixture{
		gateway:  newMockGateway(),
		orders:   newMockOrderStore(order),
		invoices: newMockInvoiceStore(),
		tokens:   newMockTokenStore(),
		forms:    newMockFormStore(),
		logs:     &mockLogStore{},
	}
	cfg := config.QNBPayConfig{
		OrderPrefix:        "PFX",
		ThreeD:             true,
		SuccessOrderStatus: "processing",
	}
	installmentSvc := NewInstallmentService(config.InstallmentConfig{Enabled: true, MaxCount: 12})
	audit := NewAuditService(f.logs, debuglog.New("", "test", false))
	f.svc = NewPaymentService(
		f.gateway, f.orders, f.invoices, f.tokens, f.forms,
		installmentSvc, audit, cfg, "https://pay.example.test",
	)
	return f
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:       1045,
		OrderKey: "wc_order_k3y",
		Status:   models.OrderStatusPending,
		Total:    decimal.RequireFromString("150.75"),
		Currency: "TRY",
	}
}

func validCheckout() *CheckoutInput {
	return &CheckoutInput{
		OrderID:      1045,
		OrderKey:     "wc_order_k3y",
		HolderName:   "Ayse Yilmaz",
		CardNumber:   "4155650100416111",
		ExpiryMonth:  "12",
		ExpiryYear:   "26",
		CVV:          "123",
		Installments: 3,
	}
}

func TestCheckout_HappyPath(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	result, err := f.svc.Checkout(context.Background(), validCheckout())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(result.InvoiceID, "PFX_1045_") {
		t.Errorf("invoice id not minted with prefix and order id: %s", result.InvoiceID)
	}
	if result.RedirectURL != "https://pay.example.test/v1/pay/form/1045?key=wc_order_k3y" {
		t.Errorf("unexpected redirect url: %s", result.RedirectURL)
	}

	form, _ := f.forms.Get(context.Background(), 1045)
	if form == nil {
		t.Fatal("charge form was not stored")
	}
	if form.InvoiceID != result.InvoiceID {
		t.Errorf("stored form invoice mismatch: %s vs %s", form.InvoiceID, result.InvoiceID)
	}
	if !strings.Contains(form.HTML, result.InvoiceID) {
		t.Error("rendered form does not carry the invoice id")
	}

	if f.orders.Meta[models.MetaInvoiceID] != result.InvoiceID {
		t.Error("invoice id not annotated on the order")
	}
}

func TestCheckout_AuditMasksCardNumber(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	if _, err := f.svc.Checkout(context.Background(), validCheckout()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var found bool
	for _, e := range f.logs.Entries {
		if e.Action != models.ActionFormatOrder {
			continue
		}
		found = true
		data := string(e.Data)
		if strings.Contains(data, "4155650100416111") {
			t.Error("full card number leaked into the audit trail")
		}
		if !strings.Contains(data, "41556501XXXXXXXX") {
			t.Errorf("expected BIN-preserving mask in audit data: %s", data)
		}
		if strings.Contains(data, `"hash_key":"`) && !strings.Contains(data, `"hash_key":"***"`) {
			t.Error("hash key not redacted in audit data")
		}
	}
	if !found {
		t.Fatal("no formatOrder audit entry recorded")
	}
}

func TestCheckout_AlreadyPaid(t *testing.T) {
	order := pendingOrder()
	order.Status = models.OrderStatusPaid
	f := newPaymentFixture(order)

	_, err := f.svc.Checkout(context.Background(), validCheckout())
	if !errors.Is(err, utils.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestCheckout_InvalidOrderKey(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	in := validCheckout()
	in.OrderKey = "wrong"

	if _, err := f.svc.Checkout(context.Background(), in); !errors.Is(err, utils.ErrInvalidOrderKey) {
		t.Errorf("expected ErrInvalidOrderKey, got %v", err)
	}
}

func TestCheckout_UnknownOrder(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	in := validCheckout()
	in.OrderID = 9999

	if _, err := f.svc.Checkout(context.Background(), in); !errors.Is(err, utils.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCheckout_CardValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *CheckoutInput)
	}{
		{"short card number", func(in *CheckoutInput) { in.CardNumber = "41556501" }},
		{"non-digit card number", func(in *CheckoutInput) { in.CardNumber = "4155abcd00416111" }},
		{"missing holder name", func(in *CheckoutInput) { in.HolderName = "  " }},
		{"bad expiry month", func(in *CheckoutInput) { in.ExpiryMonth = "1" }},
		{"bad expiry year", func(in *CheckoutInput) { in.ExpiryYear = "202" }},
		{"bad cvv", func(in *CheckoutInput) { in.CVV = "12" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(pendingOrder())
			in := validCheckout()
			tt.mutate(in)
			if _, err := f.svc.Checkout(context.Background(), in); !errors.Is(err, utils.ErrValidationError) {
				t.Errorf("expected ErrValidationError, got %v", err)
			}
		})
	}
}

func TestCheckout_TokenFailureIsHardStop(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	f.gateway.GetTokenFunc = func(ctx context.Context) (string, error) {
		return "", errMockTransport
	}

	_, err := f.svc.Checkout(context.Background(), validCheckout())
	if !errors.Is(err, utils.ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}

	if len(f.invoices.Mappings) != 0 {
		t.Error("no invoice must be minted when token acquisition fails")
	}
	if f.tokens.Sets != 0 {
		t.Error("failed token must not be cached")
	}

	var audited bool
	for _, a := range f.logs.actions() {
		if a == models.ActionTokenFailed {
			audited = true
		}
	}
	if !audited {
		t.Error("token failure not audited")
	}
}

func TestCheckout_TokenReuseFromCache(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	if _, err := f.svc.Checkout(context.Background(), validCheckout()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orders.Order.Status = models.OrderStatusPending
	if _, err := f.svc.Checkout(context.Background(), validCheckout()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.gateway.TokenCalls != 1 {
		t.Errorf("expected 1 gateway token call across 2 checkouts, got %d", f.gateway.TokenCalls)
	}
}

func TestCheckout_BinLookupFailure(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	f.gateway.GetPosFunc = func(ctx context.Context, token, cardBIN string, amount decimal.Decimal, currency string) (*qnbpay.PosResponse, error) {
		return nil, errMockTransport
	}

	if _, err := f.svc.Checkout(context.Background(), validCheckout()); !errors.Is(err, utils.ErrLookupFailure) {
		t.Errorf("expected ErrLookupFailure, got %v", err)
	}
}

func TestServeForm(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	if _, err := f.svc.Checkout(context.Background(), validCheckout()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("serves stored html", func(t *testing.T) {
		html, err := f.svc.ServeForm(context.Background(), 1045, "wc_order_k3y")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(html, "qnbpay-charge-form") {
			t.Error("served html is not the charge form")
		}
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		if _, err := f.svc.ServeForm(context.Background(), 1045, "nope"); !errors.Is(err, utils.ErrInvalidOrderKey) {
			t.Errorf("expected ErrInvalidOrderKey, got %v", err)
		}
	})

	t.Run("missing form", func(t *testing.T) {
		if _, err := f.svc.ServeForm(context.Background(), 777, "wc_order_k3y"); !errors.Is(err, utils.ErrMappingNotFound) {
			t.Errorf("expected ErrMappingNotFound, got %v", err)
		}
	})
}

func TestHandleReturn_ConfirmedByStatusCheck(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "1",
		InvoiceID:     "PFX_1045_8823991205",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("expected success, got %s (%s)", result.Outcome, result.Reason)
	}
	if f.orders.Order.Status != models.OrderStatus("processing") {
		t.Errorf("order not transitioned to success status, got %s", f.orders.Order.Status)
	}
	if f.gateway.CheckStatusCalls != 1 {
		t.Errorf("expected exactly 1 checkstatus call, got %d", f.gateway.CheckStatusCalls)
	}
}

func TestHandleReturn_NeverTrustsPaymentStatus(t *testing.T) {
	// payment_status=1 from the browser redirect, but checkstatus says the
	// charge was declined: the order must fail, never complete.
	f := newPaymentFixture(pendingOrder())
	f.gateway.CheckStatusFunc = func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
		return &qnbpay.StatusResponse{StatusCode: 41, MdStatus: 0, StatusDescription: "3D verification failed"}, nil
	}

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "1",
		InvoiceID:     "PFX_1045_8823991205",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("expected failed, got %s", result.Outcome)
	}
	if f.orders.Order.Status.IsPaid() {
		t.Error("order must not be marked paid on unconfirmed status")
	}
	if f.orders.Meta[models.MetaFailureReason] != "3D verification failed" {
		t.Errorf("failure reason not recorded: %q", f.orders.Meta[models.MetaFailureReason])
	}
}

func TestHandleReturn_DeclineIsTerminal(t *testing.T) {
	// An authoritative checkstatus decline must land the order in the
	// terminal failed status, not leave it pending forever.
	f := newPaymentFixture(pendingOrder())
	f.gateway.CheckStatusFunc = func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
		return &qnbpay.StatusResponse{StatusCode: 41, MdStatus: 0, StatusDescription: "card declined"}, nil
	}

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "1",
		InvoiceID:     "PFX_1045_8823991205",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFailed || result.Reason != "card declined" {
		t.Errorf("expected failed with provider reason, got %s (%s)", result.Outcome, result.Reason)
	}
	if f.orders.Order.Status != models.OrderStatusFailed {
		t.Errorf("order never transitioned to failed, got %s", f.orders.Order.Status)
	}
	if f.orders.Meta[models.MetaFailureReason] != "card declined" {
		t.Errorf("decline reason not recorded: %q", f.orders.Meta[models.MetaFailureReason])
	}
	if _, ok := f.orders.Meta[models.MetaAwaitingRetry]; ok {
		t.Error("terminally failed order must not carry the retry flag")
	}
}

func TestHandleReturn_PendingStaysRetryable(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	f.gateway.CheckStatusFunc = func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
		return &qnbpay.StatusResponse{StatusCode: 41, MdStatus: 0, TransactionStatus: "PENDING"}, nil
	}

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "1",
		InvoiceID:     "PFX_1045_8823991205",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRetry {
		t.Errorf("pending charge must stay retryable, got %s", result.Outcome)
	}
	if f.orders.Order.Status != models.OrderStatusPending {
		t.Errorf("pending charge must not fail the order, got %s", f.orders.Order.Status)
	}
}

func TestHandleReturn_DeclineLosesToRacingCompletion(t *testing.T) {
	// The webhook confirmed the charge between our load and the decline
	// write: paid beats failed, the buyer sees the receipt.
	f := newPaymentFixture(pendingOrder())
	f.orders.CASWins = []bool{false}
	f.gateway.CheckStatusFunc = func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
		return &qnbpay.StatusResponse{StatusCode: 41, MdStatus: 0, StatusDescription: "card declined"}, nil
	}

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "1",
		InvoiceID:     "PFX_1045_8823991205",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("decline losing the status race must report success, got %s", result.Outcome)
	}
	if _, ok := f.orders.Meta[models.MetaFailureReason]; ok {
		t.Error("losing decline must not annotate a completed order")
	}
}

func TestHandleReturn_ProviderRejection(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "0",
		Error:         "insufficient funds",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRetry || result.Reason != "insufficient funds" {
		t.Errorf("expected retry with provider reason, got %s (%s)", result.Outcome, result.Reason)
	}
	if f.gateway.CheckStatusCalls != 0 {
		t.Error("declared rejection must not trigger a status check")
	}
	if f.orders.Meta[models.MetaAwaitingRetry] != "1" {
		t.Error("retry flag not set")
	}
}

func TestHandleReturn_TransportFailureFlagsRecheck(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	f.gateway.CheckStatusFunc = func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
		return nil, errMockTransport
	}

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "1",
		InvoiceID:     "PFX_1045_8823991205",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRecheck {
		t.Errorf("expected recheck on transport failure, got %s", result.Outcome)
	}
	if f.orders.Meta[models.MetaAwaitingRecheck] != "1" {
		t.Error("recheck flag not set")
	}
	if f.orders.Order.Status.IsPaid() {
		t.Error("order must not be paid on transport failure")
	}
}

func TestHandleReturn_AlreadyPaidShortCircuits(t *testing.T) {
	order := pendingOrder()
	order.Status = models.OrderStatusPaid
	f := newPaymentFixture(order)

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{PaymentStatus: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("expected success for already-paid order, got %s", result.Outcome)
	}
	if f.gateway.CheckStatusCalls != 0 {
		t.Error("paid order must not trigger a status check")
	}
}

func TestHandleReturn_MissingInvoiceID(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{PaymentStatus: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRetry {
		t.Errorf("expected retry when provider returns no invoice id, got %s", result.Outcome)
	}
}

func webhookPayload(t *testing.T, invoiceID string) *qnbpay.WebhookPayload {
	t.Helper()
	hashKey, err := qnbpay.EncodePaymentResult(mockAppSecret, &qnbpay.PaymentResult{
		Status:       1,
		Total:        "150.75",
		InvoiceID:    invoiceID,
		OrderID:      "1045",
		CurrencyCode: "TRY",
	})
	if err != nil {
		t.Fatalf("failed to encode hash key: %v", err)
	}
	return &qnbpay.WebhookPayload{
		InvoiceID:     invoiceID,
		PaymentStatus: "1",
		HashKey:       hashKey,
	}
}

func TestHandleWebhook_CompletesOrder(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	err := f.svc.HandleWebhook(context.Background(), webhookPayload(t, "PFX_1045_8823991205"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.orders.Order.Status.IsPaid() {
		t.Error("order not completed by webhook")
	}
	if f.orders.Meta[models.MetaPaymentCompleted] == "" {
		t.Error("completion timestamp not annotated")
	}
}

func TestHandleWebhook_DeclineFailsOrder(t *testing.T) {
	// The webhook claims success, the authoritative status check says
	// declined: acknowledge the delivery but terminally fail the order.
	f := newPaymentFixture(pendingOrder())
	f.gateway.CheckStatusFunc = func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
		return &qnbpay.StatusResponse{StatusCode: 41, MdStatus: 0, StatusDescription: "card declined"}, nil
	}

	err := f.svc.HandleWebhook(context.Background(), webhookPayload(t, "PFX_1045_8823991205"))
	if err != nil {
		t.Fatalf("declined webhook must still be acknowledged, got %v", err)
	}
	if f.orders.Order.Status != models.OrderStatusFailed {
		t.Errorf("order never transitioned to failed, got %s", f.orders.Order.Status)
	}
}

func TestHandleWebhook_DoubleDelivery(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	payload := webhookPayload(t, "PFX_1045_8823991205")

	if err := f.svc.HandleWebhook(context.Background(), payload); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	err := f.svc.HandleWebhook(context.Background(), payload)
	if !errors.Is(err, utils.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed on second delivery, got %v", err)
	}
	if f.gateway.CheckStatusCalls != 1 {
		t.Errorf("second delivery must not re-verify, got %d checkstatus calls", f.gateway.CheckStatusCalls)
	}
}

func TestHandleWebhook_ValidationAndAuth(t *testing.T) {
	f := newPaymentFixture(pendingOrder())

	t.Run("missing invoice id", func(t *testing.T) {
		err := f.svc.HandleWebhook(context.Background(), &qnbpay.WebhookPayload{HashKey: "x"})
		if !errors.Is(err, utils.ErrValidationError) {
			t.Errorf("expected ErrValidationError, got %v", err)
		}
	})

	t.Run("missing hash key", func(t *testing.T) {
		err := f.svc.HandleWebhook(context.Background(), &qnbpay.WebhookPayload{InvoiceID: "PFX_1045_1"})
		if !errors.Is(err, utils.ErrValidationError) {
			t.Errorf("expected ErrValidationError, got %v", err)
		}
	})

	t.Run("undecodable hash key", func(t *testing.T) {
		err := f.svc.HandleWebhook(context.Background(), &qnbpay.WebhookPayload{
			InvoiceID: "PFX_1045_8823991205",
			HashKey:   "garbage",
		})
		if !errors.Is(err, utils.ErrInvalidPayload) {
			t.Errorf("expected ErrInvalidPayload, got %v", err)
		}
	})

	t.Run("malformed invoice id", func(t *testing.T) {
		err := f.svc.HandleWebhook(context.Background(), webhookPayload(t, "not-an-invoice"))
		if !errors.Is(err, utils.ErrValidationError) {
			t.Errorf("expected ErrValidationError, got %v", err)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		err := f.svc.HandleWebhook(context.Background(), webhookPayload(t, "PFX_9999_8823991205"))
		if !errors.Is(err, utils.ErrOrderNotFound) {
			t.Errorf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestHandleWebhook_TransportFailureAsksForRetry(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	f.gateway.CheckStatusFunc = func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
		return nil, errMockTransport
	}

	err := f.svc.HandleWebhook(context.Background(), webhookPayload(t, "PFX_1045_8823991205"))
	if !errors.Is(err, utils.ErrLookupFailure) {
		t.Errorf("expected ErrLookupFailure so the provider retries, got %v", err)
	}
	if f.orders.Order.Status.IsPaid() {
		t.Error("order must not be paid on verification transport failure")
	}
}

func TestComplete_LosingRacerIsNoOp(t *testing.T) {
	// Two confirmation paths race; the CAS loser must report success without
	// re-running completion side effects.
	f := newPaymentFixture(pendingOrder())
	f.orders.CASWins = []bool{false}

	result, err := f.svc.HandleReturn(context.Background(), 1045, "wc_order_k3y", &ReturnParams{
		PaymentStatus: "1",
		InvoiceID:     "PFX_1045_8823991205",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("losing racer must still see success, got %s", result.Outcome)
	}
	if f.orders.Meta[models.MetaPaymentCompleted] != "" {
		t.Error("losing racer must not write the completion annotation")
	}
}

func TestRecheck(t *testing.T) {
	t.Run("completes on confirmed status", func(t *testing.T) {
		f := newPaymentFixture(pendingOrder())
		if _, err := f.svc.Checkout(context.Background(), validCheckout()); err != nil {
			t.Fatalf("checkout failed: %v", err)
		}

		result, err := f.svc.Recheck(context.Background(), 1045, "wc_order_k3y")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Outcome != OutcomeSuccess {
			t.Errorf("expected success, got %s (%s)", result.Outcome, result.Reason)
		}
		mapping, _ := f.invoices.GetByOrderID(1045)
		if f.gateway.LastInvoiceID != mapping.InvoiceID {
			t.Errorf("recheck must verify the latest minted invoice, checked %s", f.gateway.LastInvoiceID)
		}
	})

	t.Run("idempotent once paid", func(t *testing.T) {
		f := newPaymentFixture(pendingOrder())
		if _, err := f.svc.Checkout(context.Background(), validCheckout()); err != nil {
			t.Fatalf("checkout failed: %v", err)
		}

		if _, err := f.svc.Recheck(context.Background(), 1045, "wc_order_k3y"); err != nil {
			t.Fatalf("first recheck failed: %v", err)
		}
		result, err := f.svc.Recheck(context.Background(), 1045, "wc_order_k3y")
		if err != nil {
			t.Fatalf("second recheck failed: %v", err)
		}
		if result.Outcome != OutcomeSuccess {
			t.Errorf("expected success, got %s", result.Outcome)
		}
		if f.gateway.CheckStatusCalls != 1 {
			t.Errorf("paid order must not be re-verified, got %d calls", f.gateway.CheckStatusCalls)
		}
	})

	t.Run("no payment attempt", func(t *testing.T) {
		f := newPaymentFixture(pendingOrder())

		result, err := f.svc.Recheck(context.Background(), 1045, "wc_order_k3y")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Outcome != OutcomeRetry {
			t.Errorf("expected retry when nothing was minted, got %s", result.Outcome)
		}
	})
}

func TestComplete_ClearsTransientFlags(t *testing.T) {
	f := newPaymentFixture(pendingOrder())
	f.orders.Meta[models.MetaAwaitingRetry] = "1"
	f.orders.Meta[models.MetaAwaitingRecheck] = "1"
	f.orders.Meta[models.MetaFailureReason] = "old failure"

	err := f.svc.HandleWebhook(context.Background(), webhookPayload(t, "PFX_1045_8823991205"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, key := range []string{models.MetaAwaitingRetry, models.MetaAwaitingRecheck, models.MetaFailureReason} {
		if _, ok := f.orders.Meta[key]; ok {
			t.Errorf("transient flag %s not cleared on completion", key)
		}
	}
}
