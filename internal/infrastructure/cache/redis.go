package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

// RedisDedupe 基于 redis 的去重缓存，多实例部署时共享
type RedisDedupe struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisDedupe 连接 redis 并校验可用性
func NewRedisDedupe(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*RedisDedupe, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	logger.Info("Redis dedupe cache initialized", zap.String("addr", addr), zap.Duration("ttl", ttl))
	return &RedisDedupe{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis_dedupe")),
	}, nil
}

// Seen 查询去重键
func (r *RedisDedupe) Seen(ctx context.Context, messageID string) (bool, error) {
	_, err := r.client.Get(ctx, DedupeKey(messageID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark 写入去重键
func (r *RedisDedupe) Mark(ctx context.Context, messageID string) error {
	return r.client.Set(ctx, DedupeKey(messageID), "1", r.ttl).Err()
}

// Close 关闭连接
func (r *RedisDedupe) Close() error {
	return r.client.Close()
}
