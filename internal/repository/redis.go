package repository

import (
	"context"
	"fmt"
	"time"

	"fieldsync/internal/config"

	"github.com/redis/go-redis/v9"
)

const claimKeyPrefix = "reminder_claim:"

// RedisClaimer takes a short-lived per-task lock so only one server replica
// dispatches a given reminder.
type RedisClaimer struct {
	client *redis.Client
	owner  string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisClaimer(client *redis.Client, owner string) *RedisClaimer {
	return &RedisClaimer{client: client, owner: owner}
}

// Claim reports whether this replica won the task. A lost claim means another
// replica is dispatching or already dispatched it within ttl.
func (c *RedisClaimer) Claim(ctx context.Context, taskID string, ttl time.Duration) (bool, error) {
	if c.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := c.client.SetNX(ctx, claimKeyPrefix+taskID, c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder %s: %w", taskID, err)
	}
	return ok, nil
}

// Release drops the claim if this replica still holds it.
func (c *RedisClaimer) Release(ctx context.Context, taskID string) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := claimKeyPrefix + taskID
	owner, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read claim %s: %w", taskID, err)
	}
	if owner != c.owner {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release claim %s: %w", taskID, err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
