package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Indexer 构建检索索引: 切分 -> 批量嵌入 -> 写入向量存储
type Indexer struct {
	chunker   *Chunker
	embedder  EmbeddingProvider
	store     VectorStore
	batchSize int
	logger    *zap.Logger
}

// NewIndexer 创建索引器
func NewIndexer(chunker *Chunker, embedder EmbeddingProvider, store VectorStore, batchSize int, logger *zap.Logger) *Indexer {
	if chunker == nil {
		chunker = DefaultChunker()
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Indexer{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger.With(zap.String("component", "indexer")),
	}
}

// ChunkID 切片的确定性ID，重复索引同一语料时覆盖旧条目
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(index))).String()
}

// Index 索引文档，返回写入的切片数
func (ix *Indexer) Index(ctx context.Context, docs []Document) (int, error) {
	chunks := ix.chunker.LoadAndChunk(docs)
	if len(chunks) == 0 {
		return 0, nil
	}

	written := 0
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return written, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vectors))
		}

		now := time.Now()
		entries := make([]*Entry, len(batch))
		for i, c := range batch {
			entries[i] = &Entry{
				ID:         ChunkID(c.Source, c.Index),
				Source:     c.Source,
				ChunkIndex: c.Index,
				Text:       c.Text,
				Embedding:  vectors[i],
				CreatedAt:  now,
			}
		}
		if err := ix.store.Upsert(ctx, entries); err != nil {
			return written, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
		written += len(entries)
	}

	ix.logger.Info("Corpus indexed",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", written),
	)
	return written, nil
}
