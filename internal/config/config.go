package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// It is the single source of truth for runtime parameters; every setting is
// enumerated here with its type and default and validated once at load time.
type Config struct {
	Port      string
	Env       string
	JWTSecret string
	Version   string

	// PublicBaseURL is the externally reachable base URL of this service,
	// used to build return, cancel, and form-relay URLs handed to the
	// provider and the buyer's browser.
	PublicBaseURL string

	// DebugLogDir is where the plaintext debug sink writes its trace files.
	DebugLogDir string

	DB          DatabaseConfig
	Redis       RedisConfig
	QNBPay      QNBPayConfig
	Installment InstallmentConfig
	Platform    PlatformConfig
}

// PlatformConfig holds the hosting shop's buyer-facing URLs that the
// redirect-return flow sends browsers to.
type PlatformConfig struct {
	ReceiptURL  string
	RetryURL    string
	CheckoutURL string
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// QNBPayConfig contains merchant credentials and gateway behaviour flags.
type QNBPayConfig struct {
	MerchantKey string
	AppKey      string
	AppSecret   string
	TestMode    bool
	ThreeD      bool

	// OrderPrefix is prepended to every invoice id. Uppercase alphanumeric,
	// required.
	OrderPrefix string

	// WebhookSecret authenticates inbound provider notifications. Optional;
	// when empty a random secret is generated at first boot and persisted.
	WebhookSecret string

	// SuccessOrderStatus is the order status applied on confirmed payment.
	SuccessOrderStatus string

	Debug bool
}

// InstallmentConfig contains the merchant-side installment policy knobs.
type InstallmentConfig struct {
	Enabled         bool
	MaxCount        int
	PerProductLimit bool
	PerCartLimit    bool
	CartThreshold   decimal.Decimal
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that production
	// environments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Version = getEnv("APP_VERSION", "1.0.0")
	cfg.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/")
	cfg.DebugLogDir = getEnv("DEBUG_LOG_DIR", "logs")

	// Database
	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	// QNBPay merchant settings
	cfg.QNBPay = QNBPayConfig{
		MerchantKey:        getEnv("QNBPAY_MERCHANT_KEY", ""),
		AppKey:             getEnv("QNBPAY_APP_KEY", ""),
		AppSecret:          getEnv("QNBPAY_APP_SECRET", ""),
		TestMode:           getEnvBool("QNBPAY_TEST_MODE", true),
		ThreeD:             getEnvBool("QNBPAY_3D_SECURE", true),
		OrderPrefix:        getEnv("QNBPAY_ORDER_PREFIX", ""),
		WebhookSecret:      getEnv("QNBPAY_WEBHOOK_SECRET", ""),
		SuccessOrderStatus: getEnv("QNBPAY_SUCCESS_ORDER_STATUS", "processing"),
		Debug:              getEnvBool("QNBPAY_DEBUG", false),
	}

	// Platform buyer-facing pages
	cfg.Platform = PlatformConfig{
		ReceiptURL:  getEnv("PLATFORM_RECEIPT_URL", "/checkout/receipt"),
		RetryURL:    getEnv("PLATFORM_RETRY_URL", "/checkout/payment"),
		CheckoutURL: getEnv("PLATFORM_CHECKOUT_URL", "/checkout"),
	}

	// Installment policy
	threshold, err := parseDecimalEnv("INSTALLMENT_CART_THRESHOLD", "0")
	if err != nil {
		return nil, fmt.Errorf("invalid INSTALLMENT_CART_THRESHOLD: %w", err)
	}
	cfg.Installment = InstallmentConfig{
		Enabled:         getEnvBool("INSTALLMENT_ENABLED", false),
		MaxCount:        getEnvInt("INSTALLMENT_MAX_COUNT", 12),
		PerProductLimit: getEnvBool("INSTALLMENT_PER_PRODUCT_LIMIT", false),
		PerCartLimit:    getEnvBool("INSTALLMENT_PER_CART_LIMIT", false),
		CartThreshold:   threshold,
	}

	// Basic validation for DB parameters — keeps messages concise and helpful.
	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
		return nil, errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set for authentication")
	}

	if cfg.QNBPay.MerchantKey == "" || cfg.QNBPay.AppKey == "" || cfg.QNBPay.AppSecret == "" {
		return nil, errors.New("qnbpay configuration incomplete: ensure QNBPAY_MERCHANT_KEY, QNBPAY_APP_KEY, and QNBPAY_APP_SECRET are set")
	}

	if !isUpperAlnum(cfg.QNBPay.OrderPrefix) {
		return nil, errors.New("QNBPAY_ORDER_PREFIX must be set and contain only uppercase letters and digits")
	}

	if cfg.QNBPay.WebhookSecret != "" && !isAlnum(cfg.QNBPay.WebhookSecret) {
		return nil, errors.New("QNBPAY_WEBHOOK_SECRET must be alphanumeric")
	}

	if cfg.Installment.MaxCount < 1 {
		return nil, errors.New("INSTALLMENT_MAX_COUNT must be >= 1")
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getEnvBool returns the value of an environment variable as a bool or a default if empty/invalid.
func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// parseDecimalEnv reads an environment variable and parses it as a decimal.
// If the variable is empty, it falls back to the provided default value.
func parseDecimalEnv(key, def string) (decimal.Decimal, error) {
	raw := getEnv(key, def)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("value must be >= 0")
	}
	return d, nil
}

func isUpperAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
