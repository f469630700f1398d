package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/cartline/qnbpay-bridge/internal/cache"
	"github.com/cartline/qnbpay-bridge/internal/utils"
	"github.com/cartline/qnbpay-bridge/pkg/qnbpay"
)

var startTime = time.Now()

// HealthHandler provides health endpoint.
type HealthHandler struct {
	db      *sqlx.DB
	redis   *cache.RedisClient
	gateway *qnbpay.Client
	version string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db *sqlx.DB, redis *cache.RedisClient, gateway *qnbpay.Client, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, gateway: gateway, version: version}
}

// GetHealth responds with service, database and cache status.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus := "connected"
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "disconnected"
	}

	redisStatus := "connected"
	if _, err := h.redis.Exists(ctx, "health"); err != nil {
		redisStatus = "disconnected"
	}

	utils.Success(c, 200, "Service is healthy", gin.H{
		"status":   "healthy",
		"version":  h.version,
		"uptime":   int(time.Since(startTime).Seconds()),
		"database": dbStatus,
		"redis":    redisStatus,
		"gateway": gin.H{
			"base_url": h.gateway.BaseURL(),
		},
	})
}
