package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cartline/qnbpay-bridge/internal/service"
	"github.com/cartline/qnbpay-bridge/internal/utils"
	"github.com/cartline/qnbpay-bridge/pkg/qnbpay"
)

// WebhookHandler handles incoming payment notifications from QNBPay.
type WebhookHandler struct {
	paymentSvc    *service.PaymentService
	webhookSecret string
}

// NewWebhookHandler constructs a WebhookHandler. webhookSecret is the
// per-install secret embedded in the callback URL registered with the
// provider.
func NewWebhookHandler(paymentSvc *service.PaymentService, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{paymentSvc: paymentSvc, webhookSecret: webhookSecret}
}

// HandleQNBPayWebhook handles POST /v1/webhook/qnbpay?key=<secret>
//
// Response contract: 403 for a bad key or bad hash, 400 for missing fields
// or a malformed invoice id, 200 for processed / already-processed /
// order-not-found (all acknowledged so the provider stops retrying), 500
// for internal lookup failures the provider may safely retry.
func (h *WebhookHandler) HandleQNBPayWebhook(c *gin.Context) {
	key := c.Query("key")
	if h.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(key), []byte(h.webhookSecret)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid key"})
		return
	}

	var payload qnbpay.WebhookPayload
	if err := bindWebhookPayload(c, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
		return
	}

	err := h.paymentSvc.HandleWebhook(c.Request.Context(), &payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, utils.ErrAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"received": true, "status": "already_processed"})
	case errors.Is(err, utils.ErrOrderNotFound):
		// Acknowledge so the provider does not retry forever, but keep the
		// anomaly on record.
		log.Warn().Str("invoice_id", payload.InvoiceID).Msg("webhook acknowledged for unknown order")
		c.JSON(http.StatusOK, gin.H{"received": true, "status": "order_not_found"})
	case errors.Is(err, utils.ErrInvalidPayload):
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid hash"})
	case errors.Is(err, utils.ErrValidationError):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or malformed fields"})
	default:
		log.Error().Err(err).Str("invoice_id", payload.InvoiceID).Msg("webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
	}
}

// bindWebhookPayload accepts either JSON or form-encoded notification
// bodies; the provider uses both.
func bindWebhookPayload(c *gin.Context, payload *qnbpay.WebhookPayload) error {
	contentType := c.GetHeader("Content-Type")
	if strings.Contains(contentType, "application/json") {
		return c.ShouldBindJSON(payload)
	}
	return c.ShouldBind(payload)
}
