package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence"
)

const (
	ownerNumber   = "5511911111111"
	contactNumber = "5511900000000"
)

// MockSender 记录发送内容
type MockSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *MockSender) SendText(_ context.Context, _ *entity.ConnectorInstance, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+": "+text)
	return nil
}

func (m *MockSender) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// MockAnswerer 固定回答
type MockAnswerer struct {
	mu        sync.Mutex
	answer    string
	err       error
	questions []string
}

func (m *MockAnswerer) Ask(_ context.Context, q string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = append(m.questions, q)
	return m.answer, m.err
}

// InlinePool 在 Submit 内同步执行任务
type InlinePool struct {
	full bool
}

var errQueueFull = errors.New("queue full")

func (p *InlinePool) Submit(task func(ctx context.Context)) error {
	if p.full {
		return errQueueFull
	}
	task(context.Background())
	return nil
}

func (p *InlinePool) Depth() int { return 0 }

// DeferredPool 暂存任务，Drain 时才执行
type DeferredPool struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context)
}

func (p *DeferredPool) Submit(task func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *DeferredPool) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *DeferredPool) Drain() {
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = nil
	p.mu.Unlock()
	for _, task := range tasks {
		task(context.Background())
	}
}

// MemoryDedupe 测试用去重集合
type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *MemoryDedupe) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *MemoryDedupe) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}

// recordingPublisher 收集事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev entity.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Count(t entity.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	connectorRepo repository.ConnectorRepository
	sessionRepo   repository.SessionRepository
	messages      repository.MessageRepository
	jobs          repository.JobRepository
	contacts      repository.ContactRepository

	connectors *service.ConnectorRegistry
	sessions   *service.SessionManager
	events     *recordingPublisher
	sender     *MockSender
	answerer   *MockAnswerer
	pool       *InlinePool

	dispatcher *usecase.ResponseDispatcher
	queue      *usecase.JobQueue
	answers    *usecase.AnswerWorker
	ingest     *usecase.IngestMessageUseCase
	inst       *entity.ConnectorInstance
}

type fixtureOption func(*entity.ConnectorParams)

func withAllowList(numbers ...string) fixtureOption {
	return func(p *entity.ConnectorParams) { p.AuthorizedNumbers = numbers }
}

func withStatus(s entity.ConnectorStatus) fixtureOption {
	return func(p *entity.ConnectorParams) { p.Status = s }
}

func inactive() fixtureOption {
	return func(p *entity.ConnectorParams) { p.IsActive = false }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		connectorRepo: persistence.NewMemoryConnectorRepository(),
		sessionRepo:   persistence.NewMemorySessionRepository(),
		messages:      persistence.NewMemoryMessageRepository(),
		jobs:          persistence.NewMemoryJobRepository(),
		contacts:      persistence.NewMemoryContactRepository(),
		events:        &recordingPublisher{},
		sender:        &MockSender{},
		answerer:      &MockAnswerer{answer: "Atendemos das 8h às 18h."},
		pool:          &InlinePool{},
	}
	f.connectors = service.NewConnectorRegistry(f.connectorRepo, f.events, logger)
	f.sessions = service.NewSessionManager(f.sessionRepo, f.events, logger)

	params := entity.ConnectorParams{
		ID:                 "inst-1",
		TenantID:           "tenant-1",
		Name:               "loja",
		ExternalInstanceID: "evo-123",
		PhoneNumber:        ownerNumber,
		ProfileName:        "Loja Centro",
		IgnoreOwnMessages:  true,
		Status:             entity.ConnectorConnected,
		IsActive:           true,
	}
	for _, opt := range opts {
		opt(&params)
	}
	inst, err := entity.NewConnectorInstance(params)
	if err != nil {
		t.Fatalf("NewConnectorInstance: %v", err)
	}
	if err := f.connectors.Register(context.Background(), inst); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.inst = inst

	f.dispatcher = usecase.NewResponseDispatcher(f.messages, f.connectors, f.sessions, f.sender, nil, f.events, logger)
	f.queue = usecase.NewJobQueue(f.jobs, f.messages, f.events, logger)
	f.queue.SetCompletionHandler(f.dispatcher)
	f.answers = usecase.NewAnswerWorker(f.answerer, f.dispatcher, f.messages, f.pool, logger)
	f.ingest = usecase.NewIngestMessageUseCase(usecase.IngestDeps{
		Connectors: f.connectors,
		Sessions:   f.sessions,
		Messages:   f.messages,
		Contacts:   f.contacts,
		Policy:     service.ChainHandoffPolicy{service.CommandHandoffPolicy{}, service.NewKeywordHandoffPolicy([]string{"atendente"})},
		Admin:      usecase.NewAdminCommands(f.connectors, f.sessions, logger),
		Answers:    f.answers,
		Jobs:       f.queue,
		Dispatcher: f.dispatcher,
		Dedupe:     &MemoryDedupe{},
		Events:     f.events,
	}, logger)
	return f
}

func textEvent(id, from, content string) usecase.InboundEvent {
	return usecase.InboundEvent{
		InstanceID: "evo-123",
		FromNumber: from + "@s.whatsapp.net",
		MessageID:  id,
		Type:       "text",
		Content:    content,
		SenderName: "Maria",
	}
}

func mediaEvent(id, from string, t valueobject.MessageType) usecase.InboundEvent {
	return usecase.InboundEvent{
		InstanceID: "evo-123",
		FromNumber: from,
		MessageID:  id,
		Type:       string(t),
		MediaRef:   "https://cdn.example.com/" + id,
		SenderName: "Maria",
	}
}

func (f *fixture) message(t *testing.T, id string) *entity.MessageRecord {
	t.Helper()
	m, err := f.messages.FindByMessageID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByMessageID(%s): %v", id, err)
	}
	return m
}

// hoursLLM answers with the context line that mentions business hours.
type hoursLLM struct{}

func (hoursLLM) Generate(_ context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	for _, line := range strings.Split(req.Messages[0].Content, "\n") {
		if strings.Contains(strings.ToLower(line), "horário") {
			return &service.LLMResponse{Content: strings.TrimSpace(line)}, nil
		}
	}
	return &service.LLMResponse{Content: "Não sei."}, nil
}

func newKnowledgeEngine(t *testing.T, docs ...knowledge.Document) *knowledge.Engine {
	t.Helper()
	store := knowledge.NewInMemoryVectorStore()
	embedder := knowledge.NewSimpleEmbedder(256)
	ix := knowledge.NewIndexer(knowledge.DefaultChunker(), embedder, store, 16, zap.NewNop())
	if _, err := ix.Index(context.Background(), docs); err != nil {
		t.Fatalf("Index: %v", err)
	}
	return knowledge.NewEngine(
		knowledge.NewVectorRetriever(store, embedder),
		hoursLLM{},
		valueobject.DefaultGenerationConfig(),
		zap.NewNop(),
	)
}

func (f *fixture) rebuildIngest() {
	f.ingest = usecase.NewIngestMessageUseCase(usecase.IngestDeps{
		Connectors: f.connectors,
		Sessions:   f.sessions,
		Messages:   f.messages,
		Contacts:   f.contacts,
		Policy:     service.CommandHandoffPolicy{},
		Admin:      usecase.NewAdminCommands(f.connectors, f.sessions, zap.NewNop()),
		Answers:    f.answers,
		Jobs:       f.queue,
		Dispatcher: f.dispatcher,
		Events:     f.events,
	}, zap.NewNop())
}

func zapNop() *zap.Logger { return zap.NewNop() }

func contains(s, sub string) bool { return strings.Contains(s, sub) }
