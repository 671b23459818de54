package knowledge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// contextEchoLLM answers with the context line that shares the most words with the question.
type contextEchoLLM struct {
	mu       sync.Mutex
	requests []*service.LLMRequest
}

func (l *contextEchoLLM) Generate(_ context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()

	system := req.Messages[0].Content
	question := tokenize(req.Messages[1].Content)
	best, bestScore := "I don't know.", 0
	for _, line := range strings.Split(system, "\n") {
		words := map[string]bool{}
		for _, w := range tokenize(line) {
			words[w] = true
		}
		score := 0
		for _, q := range question {
			if words[q] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = line, score
		}
	}
	return &service.LLMResponse{Content: best, ModelUsed: req.Model}, nil
}

type blockingLLM struct{}

func (blockingLLM) Generate(context.Context, *service.LLMRequest) (*service.LLMResponse, error) {
	select {} // ignores cancellation
}

type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, string, int) ([]*Entry, error) {
	return nil, errors.New("connection refused")
}

func buildIndex(t *testing.T) (*InMemoryVectorStore, *SimpleEmbedder) {
	t.Helper()
	store := NewInMemoryVectorStore()
	embedder := NewSimpleEmbedder(256)
	ix := NewIndexer(DefaultChunker(), embedder, store, 2, zap.NewNop())
	docs := []Document{
		{Source: "horarios.txt", Text: "Nosso horário de atendimento é de segunda a sexta, das 8h às 18h."},
		{Source: "entrega.txt", Text: "Entregamos em toda a região metropolitana em até 48 horas."},
		{Source: "pagamento.txt", Text: "Aceitamos cartão de crédito, boleto e pix."},
		{Source: "troca.txt", Text: "Trocas podem ser feitas em até 30 dias com a nota fiscal."},
	}
	n, err := ix.Index(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("indexed %d chunks, want 4", n)
	}
	return store, embedder
}

func TestEngine_AnswersBusinessHours(t *testing.T) {
	store, embedder := buildIndex(t)
	llm := &contextEchoLLM{}
	engine := NewEngine(NewVectorRetriever(store, embedder), llm, valueobject.DefaultGenerationConfig(), zap.NewNop())

	answer, err := engine.Ask(context.Background(), "Qual o horário de atendimento?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(answer, "das 8h às 18h") {
		t.Errorf("answer = %q", answer)
	}

	req := llm.requests[0]
	if req.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", req.Temperature)
	}
	if got := strings.Count(req.Messages[0].Content, "\n\n"); got != 3 {
		t.Errorf("expected 3 chunks in context, separators = %d", got)
	}
	if engine.TopK() != 3 {
		t.Errorf("topK = %d", engine.TopK())
	}
}

func TestEngine_RetrievalUnavailable(t *testing.T) {
	engine := NewEngine(failingRetriever{}, &contextEchoLLM{}, valueobject.DefaultGenerationConfig(), zap.NewNop())
	_, err := engine.Ask(context.Background(), "oi")
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("unexpected error %v", err)
	}

	store := NewInMemoryVectorStore()
	r := NewVectorRetriever(store, failingEmbedder{})
	if _, err := r.Retrieve(context.Background(), "oi", 3); !errors.Is(err, ErrRetrievalUnavailable) {
		t.Errorf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestEngine_TimeoutIsGenerationFailure(t *testing.T) {
	store, embedder := buildIndex(t)
	gen := valueobject.NewGenerationConfig("openai", "gpt-4o-mini", 256, 0, 20*time.Millisecond)
	engine := NewEngine(NewVectorRetriever(store, embedder), blockingLLM{}, gen, zap.NewNop())

	start := time.Now()
	_, err := engine.Ask(context.Background(), "Qual o horário?")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if !service.IsTimeout(err) {
		t.Errorf("expected timeout classification, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Ask did not abandon the blocked call")
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}
func (failingEmbedder) Dimension() int { return 0 }
