package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

// DefaultDedupeTTL webhook 去重键存活时间
const DefaultDedupeTTL = 300 * time.Second

// DedupeCache webhook 消息去重快速路径
// 命中只说明近期见过该消息，数据库唯一约束仍是最终判定
type DedupeCache interface {
	// Seen 是否近期处理过该消息
	Seen(ctx context.Context, messageID string) (bool, error)
	// Mark 记录消息已处理
	Mark(ctx context.Context, messageID string) error
	Close() error
}

// DedupeKey 去重键
func DedupeKey(messageID string) string {
	return fmt.Sprintf("webhook_msg_%s", messageID)
}

// New 按配置创建去重缓存: 启用 redis 时使用 redis，否则使用进程内 TTL 表
func New(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, logger *zap.Logger) (DedupeCache, error) {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if !cfg.Enabled {
		logger.Info("Using in-process dedupe cache", zap.Duration("ttl", ttl))
		return NewMemoryDedupe(ttl), nil
	}
	return NewRedisDedupe(ctx, cfg, ttl, logger)
}
