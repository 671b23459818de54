package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
)

// Provider is the infrastructure-layer LLM provider interface.
// Each provider implements service.LLMClient so the router can fail over between them.
type Provider interface {
	service.LLMClient

	// Name returns the provider identifier (e.g. "openai", "claude")
	Name() string

	// Models returns the list of supported model identifiers
	Models() []string

	// SupportsModel checks if a specific model is supported
	SupportsModel(model string) bool

	// IsAvailable checks if the provider is configured well enough to be called
	IsAvailable(ctx context.Context) bool
}

// Transcriber is implemented by providers that can turn audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error)
}

// TranscriptionRequest 语音转写请求
type TranscriptionRequest struct {
	Audio    []byte
	Filename string
	MimeType string
	Model    string
	Language string
}

// ProviderConfig holds configuration for an LLM provider.
type ProviderConfig struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // "openai" (default) | "anthropic"
	BaseURL string   `json:"base_url"`
	APIKey  string   `json:"api_key"`
	Models  []string `json:"models"`
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.
// Adding a new provider type = implement Provider + RegisterFactory("type", New).

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (llm/openai, llm/anthropic).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for cfg.Type.
// An empty Type means "openai".
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	factory, ok := factories[t]
	if !ok {
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		sort.Strings(available)
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}
	return factory(cfg, logger), nil
}
