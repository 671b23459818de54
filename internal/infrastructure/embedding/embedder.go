package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

// New 按配置创建嵌入提供者; "simple" 为离线词袋实现
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (knowledge.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "", "simple":
		return knowledge.NewSimpleEmbedder(cfg.Dimension), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension, logger)
	case "openai":
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension, logger), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
