// Package sequence allocates request-number sequences from Redis.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// Config holds Redis connection settings
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// KeyTTL bounds how long a year's counter survives after its last use
	KeyTTL time.Duration
}

// RedisSequence implements port.SequenceGenerator with INCR
type RedisSequence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewClient creates a Redis client and verifies the connection
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewRedisSequence wraps client. An empty prefix defaults to "approval:seq".
func NewRedisSequence(client *redis.Client, prefix string, ttl time.Duration) *RedisSequence {
	if prefix == "" {
		prefix = "approval:seq"
	}
	return &RedisSequence{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key for a scope
func (s *RedisSequence) Key(businessType entity.BusinessType, code string, year int) string {
	return fmt.Sprintf("%s:%s:%s:%d", s.prefix, businessType, code, year)
}

// Next increments the scope's counter atomically
func (s *RedisSequence) Next(ctx context.Context, businessType entity.BusinessType, code string, year int) (int64, error) {
	key := s.Key(businessType, code, year)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

var _ port.SequenceGenerator = (*RedisSequence)(nil)
