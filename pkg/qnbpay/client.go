package qnbpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// ProductionBaseURL is the live QNBPay API base URL.
	ProductionBaseURL = "https://portal.qnbpay.com.tr/ccpayment/api"
	// TestBaseURL is the sandbox QNBPay API base URL.
	TestBaseURL = "https://portaltest.qnbpay.com.tr/ccpayment/api"

	// requestTimeout bounds every gateway call. No automatic retry: the
	// caller decides.
	requestTimeout = 25 * time.Second
)

// StatusOK is the provider status_code returned on success. Any other value,
// even with HTTP 200, is a failure carrying the provider's message.
const StatusOK = 100

var (
	// ErrAuthFailure is returned when a token could not be acquired.
	ErrAuthFailure = errors.New("qnbpay: token acquisition failed")
	// ErrLookupFailure is returned when a BIN, commission, or status call did
	// not succeed.
	ErrLookupFailure = errors.New("qnbpay: lookup failed")
)

// Config carries merchant credentials for the QNBPay API.
type Config struct {
	MerchantKey string
	AppKey      string
	AppSecret   string
	TestMode    bool
	Debug       bool
}

// Client is a minimal HTTP client for the QNBPay card-processing API.
// It holds no token state: callers supply a bearer token acquired via
// GetToken and cached externally.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	merchantKey string
	appKey      string
	appSecret   string
	debug       bool
}

// NewClient constructs a new QNBPay client. The base URL switches between
// test and production according to cfg.TestMode.
func NewClient(cfg Config) *Client {
	baseURL := ProductionBaseURL
	if cfg.TestMode {
		baseURL = TestBaseURL
	}
	return &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		baseURL:     baseURL,
		merchantKey: cfg.MerchantKey,
		appKey:      cfg.AppKey,
		appSecret:   cfg.AppSecret,
		debug:       cfg.Debug,
	}
}

// MerchantKey exposes the merchant key for cache keying and payload building.
func (c *Client) MerchantKey() string { return c.merchantKey }

// AppSecret exposes the app secret used to derive hash keys.
func (c *Client) AppSecret() string { return c.appSecret }

// BaseURL returns the active API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// GetToken POSTs app credentials to the token endpoint and returns a fresh
// bearer token. Nothing is cached here; negative results in particular must
// never be cached.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	req := TokenRequest{AppID: c.appKey, AppSecret: c.appSecret}
	var resp TokenResponse
	if err := c.doRequest(ctx, "/token", "", req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	if resp.StatusCode != StatusOK || resp.Data.Token == "" {
		return "", fmt.Errorf("%w: %s", ErrAuthFailure, resp.StatusDescription)
	}
	return resp.Data.Token, nil
}

// GetPos performs a BIN lookup: it classifies the issuing program of the
// card and returns the installment options the provider supports for the
// given amount.
func (c *Client) GetPos(ctx context.Context, token, cardBIN string, amount decimal.Decimal, currency string) (*PosResponse, error) {
	req := PosRequest{
		CreditCard:   cardBIN,
		Amount:       amount.StringFixed(2),
		CurrencyCode: currency,
		MerchantKey:  c.merchantKey,
	}
	var resp PosResponse
	if err := c.doRequest(ctx, "/getpos", token, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrLookupFailure, resp.StatusDescription)
	}
	return &resp, nil
}

// GetCommissions returns the commission table for the merchant in the given
// currency.
func (c *Client) GetCommissions(ctx context.Context, token, currency string) (*CommissionResponse, error) {
	req := CommissionRequest{
		CurrencyCode: currency,
		MerchantKey:  c.merchantKey,
	}
	var resp CommissionResponse
	if err := c.doRequest(ctx, "/commissions", token, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrLookupFailure, resp.StatusDescription)
	}
	return &resp, nil
}

// CheckStatus queries the authoritative payment state for an invoice. This
// call, not the redirect or webhook payload, is the single source of truth
// for whether a charge actually succeeded.
func (c *Client) CheckStatus(ctx context.Context, token, invoiceID string, includePending bool) (*StatusResponse, error) {
	hashKey, err := EncodeHashKey(c.appSecret, invoiceID, c.merchantKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	req := StatusRequest{
		InvoiceID:            invoiceID,
		MerchantKey:          c.merchantKey,
		HashKey:              hashKey,
		IncludePendingStatus: includePending,
	}
	var resp StatusResponse
	if err := c.doRequest(ctx, "/checkstatus", token, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	return &resp, nil
}

// doRequest performs an HTTP POST with a JSON payload and decodes the JSON
// response into result. Every call carries a bearer token except the token
// endpoint itself (empty token).
func (c *Client) doRequest(ctx context.Context, endpoint, token string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.debug {
		ev := log.Debug().Str("endpoint", c.baseURL+endpoint)
		// The token request body carries the app secret; never log it.
		if endpoint != "/token" {
			ev = ev.RawJSON("request", payload)
		}
		ev.Msg("[QNBPAY] Outgoing request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if c.debug {
		log.Debug().
			Str("endpoint", endpoint).
			Int("status_code", resp.StatusCode).
			RawJSON("response", respBody).
			Msg("[QNBPAY] Incoming response")
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
