package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
)

// Router implements service.LLMClient by routing to the first healthy provider.
// Providers are tried in insertion order; each has its own circuit breaker.
type Router struct {
	providers        []Provider
	stats            map[string]*providerStats
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	cooldown         time.Duration
	mu               sync.RWMutex
	logger           *zap.Logger
}

// providerStats tracks per-provider performance metrics.
type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// NewRouter creates a new LLM router
func NewRouter(failureThreshold int, cooldown time.Duration, logger *zap.Logger) *Router {
	return &Router{
		stats:            make(map[string]*providerStats),
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		logger:           logger.With(zap.String("component", "llm-router")),
	}
}

var _ service.LLMClient = (*Router)(nil)

// AddProvider adds a provider to the router.
func (r *Router) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.stats[p.Name()] = &providerStats{}
	r.breakers[p.Name()] = NewCircuitBreaker(r.failureThreshold, r.cooldown)
	r.logger.Info("LLM provider added",
		zap.String("name", p.Name()),
		zap.Strings("models", p.Models()),
	)
}

// Generate implements service.LLMClient.
// A deadline or cancellation on ctx ends the failover immediately.
func (r *Router) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	providers := r.snapshot()

	var lastErr *service.LLMError
	skippedOpen := 0

	for _, p := range providers {
		if !p.SupportsModel(req.Model) || !p.IsAvailable(ctx) {
			continue
		}
		cb := r.breaker(p.Name())
		if !cb.Allow() {
			skippedOpen++
			r.logger.Debug("Provider circuit open, skipping", zap.String("provider", p.Name()))
			continue
		}

		start := time.Now()
		resp, err := p.Generate(ctx, req)
		latency := time.Since(start)
		r.record(p.Name(), latency, err)

		if err == nil {
			cb.RecordSuccess()
			r.logger.Debug("Provider succeeded",
				zap.String("provider", p.Name()),
				zap.Duration("latency", latency),
				zap.Int("tokens", resp.TokensUsed),
			)
			return resp, nil
		}

		classified := service.ClassifyError(err, p.Name(), req.Model)
		if ctx.Err() != nil {
			// the caller gave up; the provider is not to blame
			cb.RecordSuccess()
			return nil, classified
		}
		switch classified.Kind {
		case service.ErrKindTransient, service.ErrKindTimeout:
			cb.RecordFailure()
		default:
			cb.RecordSuccess()
		}
		lastErr = classified
		r.logger.Warn("Provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.String("kind", classified.Kind.String()),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	if skippedOpen > 0 {
		return nil, &service.LLMError{
			Kind:    service.ErrKindUnavailable,
			Message: fmt.Sprintf("all providers for %q are circuit-open", req.Model),
			Model:   req.Model,
		}
	}
	return nil, &service.LLMError{
		Kind:    service.ErrKindBadRequest,
		Message: fmt.Sprintf("no provider available for model %q", req.Model),
		Model:   req.Model,
	}
}

// Transcribe routes to the first provider that can transcribe audio.
func (r *Router) Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error) {
	for _, p := range r.snapshot() {
		t, ok := p.(Transcriber)
		if !ok || !p.IsAvailable(ctx) {
			continue
		}
		cb := r.breaker(p.Name())
		if !cb.Allow() {
			continue
		}
		text, err := t.Transcribe(ctx, req)
		if err != nil {
			cb.RecordFailure()
			return "", service.ClassifyError(err, p.Name(), req.Model)
		}
		cb.RecordSuccess()
		return text, nil
	}
	return "", &service.LLMError{Kind: service.ErrKindUnavailable, Message: "no transcription provider available"}
}

func (r *Router) snapshot() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]Provider, len(r.providers))
	copy(providers, r.providers)
	return providers
}

func (r *Router) breaker(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

func (r *Router) record(name string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[name]; ok {
		s.TotalCalls++
		s.LastLatency = latency
		if err != nil {
			s.FailureCount++
		}
	}
}

// ListProviders returns names, status, and performance stats of all registered providers
func (r *Router) ListProviders(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		ps := ProviderStatus{
			Name:      p.Name(),
			Models:    p.Models(),
			Available: p.IsAvailable(ctx),
		}
		if s, ok := r.stats[p.Name()]; ok {
			ps.TotalCalls = s.TotalCalls
			ps.FailureCount = s.FailureCount
			ps.LastLatencyMs = float64(s.LastLatency) / float64(time.Millisecond)
		}
		if cb, ok := r.breakers[p.Name()]; ok {
			ps.CircuitState = cb.State().String()
		}
		result = append(result, ps)
	}
	return result
}

// ProviderStatus describes a provider's current state and performance
type ProviderStatus struct {
	Name          string   `json:"name"`
	Models        []string `json:"models"`
	Available     bool     `json:"available"`
	TotalCalls    int64    `json:"total_calls"`
	FailureCount  int64    `json:"failure_count"`
	LastLatencyMs float64  `json:"last_latency_ms"`
	CircuitState  string   `json:"circuit_state"`
}
