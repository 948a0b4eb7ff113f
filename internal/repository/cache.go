package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const (
	cartKeyPrefix  = "cart:"
	defaultCartTTL = 30 * 24 * time.Hour
)

// RedisCartStore implements CartStore using Redis. Every save refreshes the TTL.
type RedisCartStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.LoggerV2
}

var _ CartStore = (*RedisCartStore)(nil)

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisCartStore creates a new Redis-backed cart store.
func NewRedisCartStore(client *redis.Client, ttl time.Duration, logger *logging.LoggerV2) *RedisCartStore {
	if ttl == 0 {
		ttl = defaultCartTTL
	}

	return &RedisCartStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Load returns the session's cart lines, or nil when there are none.
func (c *RedisCartStore) Load(ctx context.Context, sessionID string) ([]models.CartLine, error) {
	key := cartKeyPrefix + sessionID

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("Cart miss", logging.Fields{"session_id": sessionID})
		return nil, nil
	}
	if err != nil {
		c.logger.Error("Cart get error", logging.Fields{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil, err
	}

	var lines []models.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Save replaces the session's cart.
func (c *RedisCartStore) Save(ctx context.Context, sessionID string, lines []models.CartLine) error {
	key := cartKeyPrefix + sessionID

	data, err := json.Marshal(lines)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Error("Cart set error", logging.Fields{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return err
	}

	c.logger.Debug("Cart saved", logging.Fields{
		"session_id": sessionID,
		"lines":      len(lines),
		"ttl":        c.ttl.String(),
	})
	return nil
}

// Delete removes the session's cart.
func (c *RedisCartStore) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, cartKeyPrefix+sessionID).Err(); err != nil {
		c.logger.Error("Cart delete error", logging.Fields{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return err
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *RedisCartStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
