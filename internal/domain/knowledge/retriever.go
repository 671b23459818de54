package knowledge

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRetrievalUnavailable 索引或向量检索后端不可用
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrGenerationFailed 模型调用失败或超时
	ErrGenerationFailed = errors.New("generation failed")
)

// Retriever 检索能力：返回与查询最相似的 k 个切片（按相似度排序）
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]*Entry, error)
}

// VectorRetriever 嵌入查询后在向量存储中检索
type VectorRetriever struct {
	store    VectorStore
	embedder EmbeddingProvider
}

// NewVectorRetriever 创建检索器
func NewVectorRetriever(store VectorStore, embedder EmbeddingProvider) *VectorRetriever {
	return &VectorRetriever{store: store, embedder: embedder}
}

// Retrieve 检索 top-k
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]*Entry, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrievalUnavailable, err)
	}
	results, err := r.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrRetrievalUnavailable, err)
	}
	return results, nil
}
