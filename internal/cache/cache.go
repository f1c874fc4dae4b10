package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/models"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// TransactionCache holds committed transactions. Committed transactions never
// change, so entries are never invalidated, only expired.
type TransactionCache interface {
	Get(ctx context.Context, id int64) (*models.Transaction, error)
	Set(ctx context.Context, t *models.Transaction) error
	Close() error
}

type NoopCache struct{}

func (NoopCache) Get(context.Context, int64) (*models.Transaction, error) { return nil, ErrCacheMiss }
func (NoopCache) Set(context.Context, *models.Transaction) error { return nil }
func (NoopCache) Close() error { return nil }

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RedisTransactionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisTransactionCache(client *redis.Client, ttl time.Duration) *RedisTransactionCache {
	return &RedisTransactionCache{client: client, ttl: ttl}
}

func (c *RedisTransactionCache) Get(ctx context.Context, id int64) (*models.Transaction, error) {
	data, err := c.client.Get(ctx, transactionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var t models.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode cached transaction: %w", err)
	}
	return &t, nil
}

func (c *RedisTransactionCache) Set(ctx context.Context, t *models.Transaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	return c.client.Set(ctx, transactionKey(t.ID), data, c.ttl).Err()
}

func (c *RedisTransactionCache) Close() error {
	return c.client.Close()
}

func transactionKey(id int64) string {
	return fmt.Sprintf("ledger:transaction:%d", id)
}
