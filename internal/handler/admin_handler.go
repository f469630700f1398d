package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cartline/qnbpay-bridge/internal/debuglog"
	"github.com/cartline/qnbpay-bridge/internal/service"
	"github.com/cartline/qnbpay-bridge/internal/utils"
)

// AdminHandler exposes the operator endpoints: login, audit-trail browsing,
// and the debug trace download/clear actions.
type AdminHandler struct {
	authSvc  *service.AdminAuthService
	auditSvc *service.AuditService
	sink     *debuglog.Sink
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(authSvc *service.AdminAuthService, auditSvc *service.AuditService, sink *debuglog.Sink) *AdminHandler {
	return &AdminHandler{authSvc: authSvc, auditSvc: auditSvc, sink: sink}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /v1/admin/auth/login
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Email and password are required")
		return
	}

	token, err := h.authSvc.Login(req.Email, req.Password)
	if err != nil {
		utils.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials")
		return
	}
	utils.Success(c, http.StatusOK, "Login successful", gin.H{"token": token})
}

// GetTransactionLogs handles GET /v1/admin/transactions/:orderId/logs
func (h *AdminHandler) GetTransactionLogs(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	entries, err := h.auditSvc.ListByOrder(orderID, 200)
	if err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("failed to list transaction logs")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list logs")
		return
	}
	utils.Success(c, http.StatusOK, "Transaction logs", entries)
}

// TruncateLogs handles DELETE /v1/admin/logs, the operator bulk truncate of
// the audit trail.
func (h *AdminHandler) TruncateLogs(c *gin.Context) {
	if err := h.auditSvc.Truncate(); err != nil {
		log.Error().Err(err).Msg("failed to truncate transaction logs")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to truncate logs")
		return
	}
	utils.Success(c, http.StatusOK, "Transaction logs truncated", nil)
}

// DownloadDebugLog handles GET /v1/admin/debug-log
func (h *AdminHandler) DownloadDebugLog(c *gin.Context) {
	data, err := h.sink.Read()
	if err != nil {
		log.Error().Err(err).Msg("failed to read debug log")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read debug log")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="qnbpay_debug.log"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// ClearDebugLog handles DELETE /v1/admin/debug-log
func (h *AdminHandler) ClearDebugLog(c *gin.Context) {
	if err := h.sink.Clear(); err != nil {
		log.Error().Err(err).Msg("failed to clear debug log")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to clear debug log")
		return
	}
	utils.Success(c, http.StatusOK, "Debug log cleared", nil)
}
