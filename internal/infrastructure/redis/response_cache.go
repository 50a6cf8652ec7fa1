package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AshinZhou/zero2prod-my/internal/domain/idempotency"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ResponseCache keeps committed saved responses in redis so retried requests
// can be replayed without a ledger read. Postgres stays authoritative: a
// miss or a redis outage just falls through to the ledger.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{client: client, ttl: ttl}
}

func cacheKey(operatorID uuid.UUID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", operatorID, key)
}

// Get returns the cached response or nil on miss or error.
func (c *ResponseCache) Get(ctx context.Context, operatorID uuid.UUID, key string) *idempotency.SavedResponse {
	val, err := c.client.Get(ctx, cacheKey(operatorID, key)).Bytes()
	if err != nil {
		return nil
	}

	var resp idempotency.SavedResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil
	}
	return &resp
}

// Set stores a committed response. Best effort; errors are ignored because
// the ledger already holds the durable copy.
func (c *ResponseCache) Set(ctx context.Context, operatorID uuid.UUID, key string, resp *idempotency.SavedResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(operatorID, key), data, c.ttl)
}
