package cartstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/norun9/storefront-cart/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	cartField          = "cart"
	maxConnectAttempts = 30
)

// RedisCartStore is a cart store backed by Redis. Each slot is a hash whose
// "cart" field holds the JSON-encoded lines.
type RedisCartStore struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// NewRedisCartStore accepts a Redis address ("host:port" or a redis:// URL) and returns a store instance.
func NewRedisCartStore(redisAddr string, log logrus.FieldLogger) *RedisCartStore {
	opts, err := redis.ParseURL(redisAddr)
	if err != nil {
		// Not a redis:// URL; use it as a plain address.
		opts = &redis.Options{
			Addr:         redisAddr,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  30 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			PoolSize:     10,
			PoolTimeout:  4 * time.Second,
			IdleTimeout:  180 * time.Second,
		}
	}

	client := redis.NewClient(opts)
	client.AddHook(redisotel.NewTracingHook())

	return &RedisCartStore{client: client, log: log}
}

// Initialize waits for Redis to answer a ping, backing off exponentially.
func (r *RedisCartStore) Initialize(ctx context.Context) error {
	r.log.Info("RedisCartStore: initializing connection...")

	for i := 0; i < maxConnectAttempts; i++ {
		if r.Ping(ctx) {
			r.log.WithField("attempt", i+1).Info("RedisCartStore initialized successfully")
			return nil
		}

		backoff := time.Duration(1000*(1<<uint(i))) * time.Millisecond
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		r.log.WithFields(logrus.Fields{"attempt": i + 1, "backoff": backoff}).Warn("RedisCartStore: ping failed, waiting before next attempt")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed to connect to Redis after %d attempts", maxConnectAttempts)
}

// GetCart reads the cart stored under key, returning an empty cart if the slot is unset.
func (r *RedisCartStore) GetCart(ctx context.Context, key string) ([]model.Product, error) {
	r.log.WithField("key", key).Debug("RedisCartStore: GetCart called")

	val, err := r.client.HGet(ctx, key, cartField).Bytes()
	if err == redis.Nil {
		return []model.Product{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis HGet")
	}
	return Unmarshal(val)
}

// SaveCart overwrites the cart stored under key.
func (r *RedisCartStore) SaveCart(ctx context.Context, key string, lines []model.Product) error {
	r.log.WithFields(logrus.Fields{"key": key, "lines": len(lines)}).Debug("RedisCartStore: SaveCart called")

	data, err := Marshal(lines)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, key, cartField, data).Err(); err != nil {
		return errors.Wrap(err, "redis HSet")
	}
	return nil
}

// EmptyCart deletes the slot.
func (r *RedisCartStore) EmptyCart(ctx context.Context, key string) error {
	r.log.WithField("key", key).Debug("RedisCartStore: EmptyCart called")

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "redis Del")
	}
	return nil
}

// Ping checks if Redis is alive.
func (r *RedisCartStore) Ping(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		r.log.WithError(err).Warn("RedisCartStore: Ping failed")
		return false
	}
	return true
}

// Close releases the underlying connection pool.
func (r *RedisCartStore) Close() error {
	return r.client.Close()
}
