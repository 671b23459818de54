package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
	"github.com/ngoclaw/wagent/internal/infrastructure/eventbus"
)

type recordingPublisher struct {
	mu   sync.Mutex
	envs []Envelope
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestNewEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env := NewEnvelope(entity.DomainEvent{
		Type:      entity.EventMessageAnswered,
		MessageID: "ABC",
		Timestamp: ts,
	})

	assert.Equal(t, "message.answered.v1", env.Meta.Type)
	require.NotNil(t, env.Meta.CorrelationID)
	assert.Equal(t, "ABC", *env.Meta.CorrelationID)
	require.NotNil(t, env.Meta.Producer)
	assert.Equal(t, Producer, *env.Meta.Producer)
	assert.NotEmpty(t, env.Meta.ID)
	assert.True(t, env.Meta.Time.Equal(ts))

	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"type":"message.answered"`)
}

func TestNewEnvelope_NoMessageID(t *testing.T) {
	env := NewEnvelope(entity.DomainEvent{Type: entity.EventConnectorStatus})
	assert.Nil(t, env.Meta.CorrelationID)
	assert.False(t, env.Meta.Time.IsZero())
}

func TestForwarder_PublishesBusEvents(t *testing.T) {
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 8)
	pub := &recordingPublisher{err: errors.New("broker down")}
	NewForwarder(pub, zap.NewNop()).Attach(bus)

	bus.Publish(context.Background(), entity.DomainEvent{Type: entity.EventJobEnqueued, JobID: "j1"})
	bus.Publish(context.Background(), entity.DomainEvent{Type: entity.EventJobCompleted, JobID: "j1"})
	bus.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.envs, 2)
	assert.Equal(t, "job.enqueued.v1", pub.envs[0].Meta.Type)
	assert.Equal(t, "j1", pub.envs[1].Data.JobID)
}

func TestNewRabbitPublisher_RequiresURL(t *testing.T) {
	_, err := NewRabbitPublisher(config.RabbitMQConfig{}, zap.NewNop())
	assert.Error(t, err)
}
