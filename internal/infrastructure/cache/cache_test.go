package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "webhook_msg_ABC123", DedupeKey("ABC123"))
}

func TestMemoryDedupe_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDedupe(300 * time.Second)
	d.now = func() time.Time { return now }

	seen, err := d.Seen(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "m1"))
	seen, _ = d.Seen(ctx, "m1")
	assert.True(t, seen)

	now = now.Add(299 * time.Second)
	seen, _ = d.Seen(ctx, "m1")
	assert.True(t, seen)

	now = now.Add(2 * time.Second)
	seen, _ = d.Seen(ctx, "m1")
	assert.False(t, seen)
	assert.Equal(t, 0, d.Len(), "expired keys are collected")
}

func TestNew_DisabledRedisFallsBackToMemory(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{Enabled: false}, 0, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.(*MemoryDedupe)
	assert.True(t, ok)
}
