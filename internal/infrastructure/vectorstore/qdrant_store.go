package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

// payload keys
const (
	fieldSource     = "source"
	fieldChunkIndex = "chunk_index"
	fieldText       = "text"
	fieldCreatedAt  = "created_at"
)

// QdrantVectorStore implements knowledge.VectorStore on a Qdrant collection.
type QdrantVectorStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *zap.Logger
}

var _ knowledge.VectorStore = (*QdrantVectorStore)(nil)

// NewQdrantVectorStore connects over gRPC and makes sure the collection exists.
func NewQdrantVectorStore(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (*QdrantVectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant: invalid vector dimension %d", dimension)
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "wagent_knowledge"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s:%d: %w", cfg.Host, port, err)
	}

	s := &QdrantVectorStore{
		client:     client,
		collection: collection,
		dimension:  dimension,
		logger:     logger.With(zap.String("component", "qdrant"), zap.String("collection", collection)),
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	s.logger.Info("Qdrant vector store initialized",
		zap.String("host", cfg.Host),
		zap.Int("dimension", dimension),
	)
	return s, nil
}

func (s *QdrantVectorStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

// Upsert 按 ID 写入或覆盖
func (s *QdrantVectorStore) Upsert(ctx context.Context, entries []*knowledge.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) != s.dimension {
			return fmt.Errorf("qdrant: entry %s has dimension %d, want %d", e.ID, len(e.Embedding), s.dimension)
		}
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(e.ID),
			Vectors: qdrant.NewVectors(e.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				fieldSource:     e.Source,
				fieldChunkIndex: int64(e.ChunkIndex),
				fieldText:       e.Text,
				fieldCreatedAt:  created.Unix(),
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search 相似度检索，按分数降序
func (s *QdrantVectorStore) Search(ctx context.Context, query []float32, topK int) ([]*knowledge.Entry, error) {
	if topK <= 0 {
		return []*knowledge.Entry{}, nil
	}
	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	out := make([]*knowledge.Entry, 0, len(points))
	for _, p := range points {
		out = append(out, pointToEntry(p))
	}
	return out, nil
}

func pointToEntry(p *qdrant.ScoredPoint) *knowledge.Entry {
	payload := p.GetPayload()
	return &knowledge.Entry{
		ID:         p.GetId().GetUuid(),
		Source:     payload[fieldSource].GetStringValue(),
		ChunkIndex: int(payload[fieldChunkIndex].GetIntegerValue()),
		Text:       payload[fieldText].GetStringValue(),
		Score:      p.GetScore(),
		CreatedAt:  time.Unix(payload[fieldCreatedAt].GetIntegerValue(), 0),
	}
}

// Count 条目数量
func (s *QdrantVectorStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return int(n), nil
}

// Reset 删除并重建集合
func (s *QdrantVectorStore) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("qdrant: delete collection: %w", err)
	}
	return s.ensureCollection(ctx)
}

// Close releases the gRPC connection.
func (s *QdrantVectorStore) Close() error {
	return s.client.Close()
}
