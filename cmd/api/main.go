package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cartline/qnbpay-bridge/internal/cache"
	"github.com/cartline/qnbpay-bridge/internal/config"
	"github.com/cartline/qnbpay-bridge/internal/database"
	"github.com/cartline/qnbpay-bridge/internal/debuglog"
	"github.com/cartline/qnbpay-bridge/internal/handler"
	"github.com/cartline/qnbpay-bridge/internal/middleware"
	"github.com/cartline/qnbpay-bridge/internal/models"
	"github.com/cartline/qnbpay-bridge/internal/repository"
	"github.com/cartline/qnbpay-bridge/internal/service"
	"github.com/cartline/qnbpay-bridge/internal/utils"
	"github.com/cartline/qnbpay-bridge/pkg/qnbpay"
)

// main is the application entrypoint for the QNBPay payment bridge.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Str("version", cfg.Version).Msg("starting qnbpay bridge")

	// 3. Connect database
	db, err := database.Connect(&cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3a. Run migrations
	if err := runMigrations(db.DB); err != nil {
		log.Error().Err(err).Msg("migration failed")
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 3b. Connect to Redis
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("redis connection failed")
		fmt.Fprintf(os.Stderr, "redis connection failed: %v\n", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected successfully")

	// 3c. Initialize caches
	tokenCache := cache.NewTokenCache(redisClient)
	formCache := cache.NewFormCache(redisClient)

	// 4. Initialize QNBPay client
	gateway := qnbpay.NewClient(qnbpay.Config{
		MerchantKey: cfg.QNBPay.MerchantKey,
		AppKey:      cfg.QNBPay.AppKey,
		AppSecret:   cfg.QNBPay.AppSecret,
		TestMode:    cfg.QNBPay.TestMode,
		Debug:       cfg.QNBPay.Debug,
	})

	// 5. Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	logRepo := repository.NewTransactionLogRepository(db)
	adminRepo := repository.NewAdminUserRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// 5a. Resolve the webhook shared secret: explicit config wins, then the
	// persisted value, then a freshly minted one stored for next boot.
	webhookSecret, err := resolveWebhookSecret(cfg.QNBPay.WebhookSecret, settingsRepo)
	if err != nil {
		log.Error().Err(err).Msg("webhook secret bootstrap failed")
		fmt.Fprintf(os.Stderr, "webhook secret bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	// 5b. Initialize debug sink
	sink := debuglog.New(cfg.DebugLogDir, cfg.Version, cfg.QNBPay.Debug)

	// 6. Initialize services
	adminAuthSvc := service.NewAdminAuthService(adminRepo, cfg.JWTSecret)
	auditSvc := service.NewAuditService(logRepo, sink)
	installmentSvc := service.NewInstallmentService(cfg.Installment)
	paymentSvc := service.NewPaymentService(
		gateway, orderRepo, invoiceRepo, tokenCache, formCache,
		installmentSvc, auditSvc, cfg.QNBPay, cfg.PublicBaseURL,
	)

	// 7. Initialize handlers
	handlers := &Handlers{
		Health:  handler.NewHealthHandler(db, redisClient, gateway, cfg.Version),
		Payment: handler.NewPaymentHandler(paymentSvc, cfg.Platform),
		Webhook: handler.NewWebhookHandler(paymentSvc, webhookSecret),
		Admin:   handler.NewAdminHandler(adminAuthSvc, auditSvc, sink),
	}

	// 8. Initialize middleware
	jwtMw := middleware.NewJWTMiddleware(cfg.JWTSecret)

	// 9. Setup router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.LoggingMiddleware())
	setupRoutes(router, handlers, jwtMw)

	// 10. Start HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 11. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// 12. Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Handlers groups all HTTP handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Payment *handler.PaymentHandler
	Webhook *handler.WebhookHandler
	Admin   *handler.AdminHandler
}

func setupRoutes(router *gin.Engine, handlers *Handlers, jwtMw *middleware.JWTMiddleware) {
	// Health check (public)
	router.GET("/v1/health", handlers.Health.GetHealth)

	// Payment flow (public; order_key authorizes individual requests)
	router.POST("/v1/checkout/:orderId", handlers.Payment.Checkout)
	router.GET("/v1/pay/form/:orderId", handlers.Payment.ServeForm)
	router.GET("/v1/pay/return/:orderId", handlers.Payment.HandleReturn)
	router.POST("/v1/pay/return/:orderId", handlers.Payment.HandleReturn)
	router.GET("/v1/pay/recheck/:orderId", handlers.Payment.Recheck)
	router.POST("/v1/pay/recheck/:orderId", handlers.Payment.Recheck)

	// Card lookups
	router.GET("/v1/installments", handlers.Payment.GetInstallments)
	router.GET("/v1/commissions", handlers.Payment.GetCommissions)

	// Provider webhook (shared-secret key in query string)
	router.POST("/v1/webhook/qnbpay", handlers.Webhook.HandleQNBPayWebhook)

	// Admin routes
	admin := router.Group("/v1/admin")
	admin.POST("/auth/login", handlers.Admin.Login)
	admin.Use(jwtMw.Handle())
	{
		admin.GET("/transactions/:orderId/logs", handlers.Admin.GetTransactionLogs)
		admin.DELETE("/logs", handlers.Admin.TruncateLogs)
		admin.GET("/debug-log", handlers.Admin.DownloadDebugLog)
		admin.DELETE("/debug-log", handlers.Admin.ClearDebugLog)
	}
}

// resolveWebhookSecret picks the webhook shared secret in priority order:
// configured value, persisted setting, or a newly generated one that is
// saved so the callback URL stays stable across restarts.
func resolveWebhookSecret(configured string, settings *repository.SettingsRepository) (string, error) {
	if configured != "" {
		return configured, nil
	}

	stored, err := settings.Get(models.SettingWebhookSecret)
	if err != nil {
		return "", fmt.Errorf("read webhook secret setting: %w", err)
	}
	if stored != "" {
		return stored, nil
	}

	secret, err := utils.GenerateWebhookSecret()
	if err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	if err := settings.Set(models.SettingWebhookSecret, secret); err != nil {
		return "", fmt.Errorf("persist webhook secret: %w", err)
	}
	log.Info().Msg("generated new webhook secret")
	return secret, nil
}

// runMigrations runs database migrations using golang-migrate.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
