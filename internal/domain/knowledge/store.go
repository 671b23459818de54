package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry 索引中的一个切片
type Entry struct {
	ID         string
	Source     string
	ChunkIndex int
	Text       string
	Embedding  []float32
	Score      float32 // 检索时填充
	CreatedAt  time.Time
}

// VectorStore 向量存储接口
type VectorStore interface {
	// Upsert 按 ID 写入或覆盖
	Upsert(ctx context.Context, entries []*Entry) error
	// Search 相似度检索，按分数降序
	Search(ctx context.Context, query []float32, topK int) ([]*Entry, error)
	// Count 条目数量
	Count(ctx context.Context) (int, error)
	// Reset 清空索引
	Reset(ctx context.Context) error
}

// EmbeddingProvider 嵌入向量提供者接口
type EmbeddingProvider interface {
	// Embed 生成文本的嵌入向量
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 批量生成嵌入向量
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension 返回向量维度
	Dimension() int
}

// InMemoryVectorStore 内存向量存储 (用于测试和小规模语料)
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		entries: make(map[string]*Entry),
	}
}

// Upsert 写入条目
func (s *InMemoryVectorStore) Upsert(_ context.Context, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		cp := *e
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		s.entries[cp.ID] = &cp
	}
	return nil
}

// Search 余弦相似度检索; 同分按来源与切片序号稳定排序
func (s *InMemoryVectorStore) Search(_ context.Context, query []float32, topK int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		cp.Score = cosineSimilarity(query, e.Embedding)
		results = append(results, &cp)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count 条目数量
func (s *InMemoryVectorStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Reset 清空
func (s *InMemoryVectorStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return nil
}

// cosineSimilarity 计算余弦相似度
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// SimpleEmbedder 词袋哈希嵌入器，离线运行与测试使用
type SimpleEmbedder struct {
	dimension int
}

// NewSimpleEmbedder 创建简单嵌入器
func NewSimpleEmbedder(dimension int) *SimpleEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &SimpleEmbedder{dimension: dimension}
}

// Embed 小写词 FNV 哈希到固定维度后归一化
func (e *SimpleEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, word := range tokenize(text) {
		vec[fnv32(word)%uint32(e.dimension)] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

// EmbedBatch 批量嵌入
func (e *SimpleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension 返回向量维度
func (e *SimpleEmbedder) Dimension() int {
	return e.dimension
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
	})
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
