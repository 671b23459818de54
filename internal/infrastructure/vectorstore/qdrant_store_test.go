package vectorstore

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

func TestPointToEntry(t *testing.T) {
	p := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDUUID("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Score: 0.87,
		Payload: qdrant.NewValueMap(map[string]any{
			fieldSource:     "horarios.txt",
			fieldChunkIndex: int64(2),
			fieldText:       "Funcionamos de segunda a sexta, das 8h às 18h.",
			fieldCreatedAt:  int64(1700000000),
		}),
	}

	e := pointToEntry(p)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", e.ID)
	assert.Equal(t, "horarios.txt", e.Source)
	assert.Equal(t, 2, e.ChunkIndex)
	assert.Contains(t, e.Text, "das 8h às 18h")
	assert.InDelta(t, 0.87, e.Score, 1e-6)
	assert.Equal(t, int64(1700000000), e.CreatedAt.Unix())
}

func TestNew_MemoryStore(t *testing.T) {
	s, err := New(context.Background(), config.VectorStoreConfig{Type: "memory"}, 8, zap.NewNop())
	require.NoError(t, err)
	_, ok := s.(*knowledge.InMemoryVectorStore)
	assert.True(t, ok)

	_, err = New(context.Background(), config.VectorStoreConfig{Type: "lance"}, 8, zap.NewNop())
	assert.Error(t, err)
}

func TestNewQdrantVectorStore_RejectsZeroDimension(t *testing.T) {
	_, err := NewQdrantVectorStore(context.Background(), config.VectorStoreConfig{Host: "localhost"}, 0, nil)
	assert.Error(t, err)
}
