package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

// New 按配置创建向量存储; memory 类型进程重启后需重新索引
func New(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (knowledge.VectorStore, error) {
	switch cfg.Type {
	case "", "memory":
		return knowledge.NewInMemoryVectorStore(), nil
	case "qdrant":
		return NewQdrantVectorStore(ctx, cfg, dimension, logger)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}
