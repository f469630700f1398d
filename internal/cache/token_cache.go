package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenTTL is the provider-documented lifetime of an access token.
const TokenTTL = time.Hour

// TokenCache stores the QNBPay access token shared across requests. At most
// one valid token exists per merchant key; failed acquisitions are never
// cached, so every caller retries immediately. The cache is also never
// invalidated on a failed authenticated call; a stale token expires
// naturally after the TTL.
type TokenCache struct {
	redis *RedisClient
}

// NewTokenCache creates a new TokenCache.
func NewTokenCache(redis *RedisClient) *TokenCache {
	return &TokenCache{redis: redis}
}

func (c *TokenCache) key(merchantKey string) string {
	return fmt.Sprintf("qnbpay:token:%s", merchantKey)
}

// Get returns the cached token for the merchant key, or "" when absent or
// expired.
func (c *TokenCache) Get(ctx context.Context, merchantKey string) (string, error) {
	token, err := c.redis.Get(ctx, c.key(merchantKey))
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token cache: %w", err)
	}
	return token, nil
}

// Set stores a freshly acquired token for exactly one hour.
func (c *TokenCache) Set(ctx context.Context, merchantKey, token string) error {
	if err := c.redis.Set(ctx, c.key(merchantKey), token, TokenTTL); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}
