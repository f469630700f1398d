package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// formTTL bounds how long a stored charge form can be replayed. A buyer who
// parks on the relay page longer than this has to restart checkout.
const formTTL = time.Hour

// StoredForm is the order-scoped auto-submit charge form captured at
// checkout time. The form-relay endpoint serves HTML verbatim; nothing is
// re-derived at relay time.
type StoredForm struct {
	OrderID   int64     `json:"orderId"`
	OrderKey  string    `json:"orderKey"`
	InvoiceID string    `json:"invoiceId"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"createdAt"`
}

// FormCache persists StoredForm entries in Redis keyed by order id.
type FormCache struct {
	redis *RedisClient
}

// NewFormCache creates a new FormCache.
func NewFormCache(redis *RedisClient) *FormCache {
	return &FormCache{redis: redis}
}

func (c *FormCache) key(orderID int64) string {
	return fmt.Sprintf("qnbpay:form:%d", orderID)
}

// Set stores the charge form for an order, replacing any previous attempt.
func (c *FormCache) Set(ctx context.Context, form *StoredForm) error {
	form.CreatedAt = time.Now()

	data, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("failed to marshal stored form: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(form.OrderID), string(data), formTTL); err != nil {
		return fmt.Errorf("failed to store charge form: %w", err)
	}
	return nil
}

// Get retrieves the stored charge form for an order. Returns (nil, nil) when
// no form is stored.
func (c *FormCache) Get(ctx context.Context, orderID int64) (*StoredForm, error) {
	data, err := c.redis.Get(ctx, c.key(orderID))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read charge form: %w", err)
	}

	var form StoredForm
	if err := json.Unmarshal([]byte(data), &form); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored form: %w", err)
	}
	return &form, nil
}

// Delete removes the stored form once it has been consumed.
func (c *FormCache) Delete(ctx context.Context, orderID int64) error {
	return c.redis.Delete(ctx, c.key(orderID))
}
