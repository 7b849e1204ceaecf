package infrastructure

import (
	"context"
	"time"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ saga.DeliveryCache = (*RedisDeliveryCache)(nil)

const defaultDeliveryTTL = 24 * time.Hour

// RedisDeliveryCache shares processed delivery keys across replicas. It only
// short-circuits redeliveries; the inbox table stays the source of truth.
type RedisDeliveryCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisClient creates a client for a single address
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisDeliveryCache creates the cache; ttl <= 0 keeps keys for a day
func NewRedisDeliveryCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeliveryCache {
	if ttl <= 0 {
		ttl = defaultDeliveryTTL
	}
	if prefix == "" {
		prefix = "saga:delivery"
	}
	return &RedisDeliveryCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisDeliveryCache) key(correlationID models.ID, dedupKey string) string {
	return c.prefix + ":" + correlationID.String() + ":" + dedupKey
}

func (c *RedisDeliveryCache) Seen(ctx context.Context, correlationID models.ID, dedupKey string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(correlationID, dedupKey)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to query delivery cache")
	}
	return n > 0, nil
}

func (c *RedisDeliveryCache) Remember(ctx context.Context, correlationID models.ID, dedupKey string) error {
	if err := c.client.Set(ctx, c.key(correlationID, dedupKey), 1, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to store delivery")
	}
	return nil
}
