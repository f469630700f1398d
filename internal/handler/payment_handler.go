package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cartline/qnbpay-bridge/internal/config"
	"github.com/cartline/qnbpay-bridge/internal/service"
	"github.com/cartline/qnbpay-bridge/internal/utils"
)

// PaymentHandler exposes the buyer-facing payment endpoints: checkout form
// submission, the stored-form relay, the provider redirect return, and the
// client-driven recheck poll.
type PaymentHandler struct {
	paymentSvc *service.PaymentService
	platform   config.PlatformConfig
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(paymentSvc *service.PaymentService, platform config.PlatformConfig) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc, platform: platform}
}

// checkoutRequest is the buyer's card form submission.
type checkoutRequest struct {
	HolderName   string `json:"ccHolderName" binding:"required"`
	CardNumber   string `json:"ccNo" binding:"required"`
	ExpiryMonth  string `json:"expiryMonth" binding:"required"`
	ExpiryYear   string `json:"expiryYear" binding:"required"`
	CVV          string `json:"cvv" binding:"required"`
	Installments int    `json:"installmentsNumber"`
}

// Checkout handles POST /v1/checkout/:orderId
func (h *PaymentHandler) Checkout(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Missing or malformed card fields")
		return
	}

	result, err := h.paymentSvc.Checkout(c.Request.Context(), &service.CheckoutInput{
		OrderID:      orderID,
		OrderKey:     c.Query("key"),
		HolderName:   req.HolderName,
		CardNumber:   req.CardNumber,
		ExpiryMonth:  req.ExpiryMonth,
		ExpiryYear:   req.ExpiryYear,
		CVV:          req.CVV,
		Installments: req.Installments,
	})
	if err != nil {
		h.checkoutError(c, orderID, err)
		return
	}

	utils.Success(c, http.StatusOK, "Checkout accepted", gin.H{
		"redirectUrl": result.RedirectURL,
		"invoiceId":   result.InvoiceID,
	})
}

func (h *PaymentHandler) checkoutError(c *gin.Context, orderID int64, err error) {
	switch {
	case errors.Is(err, utils.ErrValidationError):
		utils.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, utils.ErrAlreadyProcessed):
		utils.Success(c, http.StatusOK, "Order already paid", gin.H{"orderId": orderID})
	case errors.Is(err, utils.ErrOrderNotFound):
		utils.Error(c, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found")
	case errors.Is(err, utils.ErrInvalidOrderKey):
		utils.Error(c, http.StatusForbidden, "INVALID_ORDER_KEY", "Order key mismatch")
	case errors.Is(err, utils.ErrAuthFailure):
		// Hard stop: no charge was attempted.
		utils.Error(c, http.StatusBadGateway, "AUTH_FAILURE", "Payment provider authentication failed")
	case errors.Is(err, utils.ErrLookupFailure):
		utils.Error(c, http.StatusBadGateway, "LOOKUP_FAILURE", "Payment provider lookup failed")
	default:
		log.Error().Err(err).Int64("order_id", orderID).Msg("checkout failed")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Checkout failed")
	}
}

// ServeForm handles GET /v1/pay/form/:orderId and replays the stored
// auto-submitting charge form.
func (h *PaymentHandler) ServeForm(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	html, err := h.paymentSvc.ServeForm(c.Request.Context(), orderID, c.Query("key"))
	if err != nil {
		// Invalid key or expired form: back to the generic checkout page.
		c.Redirect(http.StatusFound, h.platform.CheckoutURL)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// HandleReturn handles GET/POST /v1/pay/return/:orderId, the browser coming
// back from the provider.
func (h *PaymentHandler) HandleReturn(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	params := &service.ReturnParams{
		PaymentStatus: pickParam(c, "payment_status"),
		InvoiceID:     pickParam(c, "invoice_id"),
		Error:         pickParam(c, "error"),
	}

	result, err := h.paymentSvc.HandleReturn(c.Request.Context(), orderID, c.Query("key"), params)
	if err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Msg("redirect return rejected")
		c.Redirect(http.StatusFound, h.platform.CheckoutURL)
		return
	}
	h.redirectFor(c, orderID, result)
}

// Recheck handles GET/POST /v1/pay/recheck/:orderId, the client-driven poll
// used after a status-verification transport failure. Idempotent.
func (h *PaymentHandler) Recheck(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	result, err := h.paymentSvc.Recheck(c.Request.Context(), orderID, c.Query("key"))
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrOrderNotFound):
			utils.Error(c, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found")
		case errors.Is(err, utils.ErrInvalidOrderKey):
			utils.Error(c, http.StatusForbidden, "INVALID_ORDER_KEY", "Order key mismatch")
		default:
			log.Error().Err(err).Int64("order_id", orderID).Msg("recheck failed")
			utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Recheck failed")
		}
		return
	}

	utils.Success(c, http.StatusOK, "Recheck completed", gin.H{
		"outcome": result.Outcome,
		"reason":  result.Reason,
	})
}

// GetInstallments handles GET /v1/installments?bin=&amount=&currency=
func (h *PaymentHandler) GetInstallments(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid amount")
		return
	}
	currency := c.DefaultQuery("currency", "TRY")

	options, err := h.paymentSvc.InstallmentOptions(c.Request.Context(), c.Query("bin"), amount, currency)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrValidationError):
			utils.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, utils.ErrAuthFailure):
			utils.Error(c, http.StatusBadGateway, "AUTH_FAILURE", "Payment provider authentication failed")
		default:
			utils.Error(c, http.StatusBadGateway, "LOOKUP_FAILURE", "BIN lookup failed")
		}
		return
	}
	utils.Success(c, http.StatusOK, "Installment options", options)
}

// GetCommissions handles GET /v1/commissions?currency=
func (h *PaymentHandler) GetCommissions(c *gin.Context) {
	currency := c.DefaultQuery("currency", "TRY")
	table, err := h.paymentSvc.Commissions(c.Request.Context(), currency)
	if err != nil {
		if errors.Is(err, utils.ErrAuthFailure) {
			utils.Error(c, http.StatusBadGateway, "AUTH_FAILURE", "Payment provider authentication failed")
			return
		}
		utils.Error(c, http.StatusBadGateway, "LOOKUP_FAILURE", "Commission lookup failed")
		return
	}
	utils.Success(c, http.StatusOK, "Commission table", table)
}

// redirectFor translates a state-machine outcome into the buyer redirect.
func (h *PaymentHandler) redirectFor(c *gin.Context, orderID int64, result *service.ReturnResult) {
	switch result.Outcome {
	case service.OutcomeSuccess:
		c.Redirect(http.StatusFound, fmt.Sprintf("%s?order=%d&qnbpay=success", h.platform.ReceiptURL, orderID))
	case service.OutcomeRecheck:
		c.Redirect(http.StatusFound, fmt.Sprintf("%s?order=%d&qnbpay=recheck", h.platform.RetryURL, orderID))
	case service.OutcomeFailed:
		c.Redirect(http.StatusFound, fmt.Sprintf("%s?order=%d&qnbpay=declined&reason=%s",
			h.platform.RetryURL, orderID, url.QueryEscape(result.Reason)))
	default:
		c.Redirect(http.StatusFound, fmt.Sprintf("%s?order=%d&qnbpay=failed&reason=%s",
			h.platform.RetryURL, orderID, url.QueryEscape(result.Reason)))
	}
}

// pickParam reads a parameter from the form body or the query string,
// whichever the provider used.
func pickParam(c *gin.Context, name string) string {
	if v := c.PostForm(name); v != "" {
		return v
	}
	return c.Query(name)
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		utils.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid order id")
		return 0, false
	}
	return orderID, true
}
