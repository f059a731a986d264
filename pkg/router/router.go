// Package router implements the LLM Router: the single entry point through
// which every chat and streaming-chat request flows. It resolves a provider
// candidate list per the configured [Strategy], tracks per-provider health
// with a four-state circuit breaker, enforces a global spend budget, and
// records usage only after a call succeeds.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inkbound-tabletop/inkbound-core/internal/resilience"
	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
	"github.com/inkbound-tabletop/inkbound-core/pkg/types"
)

// ErrBudgetExceeded is returned by Chat/StreamChat when the configured
// budget has already been exhausted, before any provider is attempted.
var ErrBudgetExceeded = errors.New("router: budget exceeded")

// ErrAllProvidersFailed is returned when every candidate in the resolved
// order fails or has an open circuit.
var ErrAllProvidersFailed = errors.New("router: all providers failed")

// ErrNoProviders is returned when the router has no registered providers.
var ErrNoProviders = errors.New("router: no providers registered")

const defaultRequestTimeout = 60 * time.Second

// ChatRequest wraps an [llm.CompletionRequest] with router-level controls.
type ChatRequest struct {
	llm.CompletionRequest

	// PinnedProvider, if set, is tried first provided its circuit is not
	// Broken. It still falls through to strategy ordering on failure.
	PinnedProvider string

	// EnableFallback allows the router to continue to the next candidate
	// after a failure. When false, only the first candidate is attempted.
	EnableFallback bool
}

// ChatResponse is a [llm.CompletionResponse] tagged with the provider that
// actually served it.
type ChatResponse struct {
	*llm.CompletionResponse
	ProviderID string
}

// entry is one registered provider with its dedicated circuit breaker.
type entry struct {
	name     string
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
}

// Router is the LLM Router. It is safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	order    []*entry
	byName   map[string]*entry
	strategy Strategy
	stats    *StatsRegistry
	budget   *CostTracker
	streams  *streamRegistry
	timeout  time.Duration

	onStateChange func(providerID string, from, to resilience.State)
}

// Option configures a [Router] at construction time.
type Option func(*Router)

// WithTimeout overrides the default 60s per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// WithBudget installs a [CostTracker] enforced at the start of every request.
func WithBudget(tracker *CostTracker) Option {
	return func(r *Router) { r.budget = tracker }
}

// WithStateChangeHook installs a callback invoked whenever a provider's
// circuit breaker transitions, for emitting router.provider_state_changed
// events.
func WithStateChangeHook(fn func(providerID string, from, to resilience.State)) Option {
	return func(r *Router) { r.onStateChange = fn }
}

// New creates a [Router] using strategy for candidate ordering.
func New(strategy Strategy, opts ...Option) *Router {
	r := &Router{
		byName:   make(map[string]*entry),
		strategy: strategy,
		stats:    newStatsRegistry(),
		streams:  newStreamRegistry(),
		timeout:  defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider adds a provider under name in registration order, which
// is also the order the Priority strategy uses.
func (r *Router) RegisterProvider(name string, p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{name: name, provider: p}
	e.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: name,
		OnStateChange: func(from, to resilience.State) {
			if r.onStateChange != nil {
				r.onStateChange(name, from, to)
			}
		},
	})
	r.order = append(r.order, e)
	r.byName[name] = e
}

// Stats exposes the router's in-memory [StatsRegistry], e.g. for a status
// endpoint or the CostOptimized/LatencyOptimized strategies under test.
func (r *Router) Stats() *StatsRegistry { return r.stats }

// candidates resolves the ordered attempt list for req: the pinned provider
// first (if set and not Broken), followed by the strategy's ordering of the
// remaining available entries.
func (r *Router) candidates(req ChatRequest) ([]*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil, ErrNoProviders
	}

	var pinned *entry
	rest := make([]*entry, 0, len(r.order))
	for _, e := range r.order {
		if req.PinnedProvider != "" && e.name == req.PinnedProvider {
			if e.breaker.Available() {
				pinned = e
			}
			continue
		}
		if e.breaker.Available() {
			rest = append(rest, e)
		}
	}

	rest = r.strategy.Order(rest, r.stats)

	if pinned != nil {
		return append([]*entry{pinned}, rest...), nil
	}
	return rest, nil
}

// Chat executes req against the resolved candidate list, returning the first
// success. Cost is recorded only once a call succeeds.
func (r *Router) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := r.checkBudget(ctx); err != nil {
		return nil, err
	}

	candidates, err := r.candidates(req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no healthy provider available", ErrAllProvidersFailed)
	}

	var lastErr error
	for i, c := range candidates {
		resp, err := r.attempt(ctx, c, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !req.EnableFallback || i == len(candidates)-1 {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func (r *Router) attempt(ctx context.Context, c *entry, req ChatRequest) (*ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	var resp *llm.CompletionResponse
	err := c.breaker.Execute(func() error {
		var innerErr error
		resp, innerErr = c.provider.Complete(callCtx, req.CompletionRequest)
		return innerErr
	})
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}

	cost := r.estimateCost(c, resp.Usage)
	r.stats.Record(c.name, cost, latency)
	r.recordUsage(ctx, c, resp.Usage, cost)

	return &ChatResponse{CompletionResponse: resp, ProviderID: c.name}, nil
}

func (r *Router) estimateCost(c *entry, usage llm.Usage) float64 {
	pricing, ok := c.provider.Pricing()
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)*pricing.InputPerToken + float64(usage.CompletionTokens)*pricing.OutputPerToken
}

func (r *Router) recordUsage(ctx context.Context, c *entry, usage llm.Usage, cost float64) {
	if r.budget == nil {
		return
	}
	_ = r.budget.store.RecordUsage(ctx, storage.UsageRecord{
		ProviderID:   c.name,
		Model:        c.provider.Model(),
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		CostUSD:      cost,
	})
}

func (r *Router) checkBudget(ctx context.Context) error {
	if r.budget == nil {
		return nil
	}
	within, err := r.budget.IsWithinBudget(ctx)
	if err != nil {
		return fmt.Errorf("router: budget check: %w", err)
	}
	if !within {
		return ErrBudgetExceeded
	}
	return nil
}

// CountTokens delegates to the pinned provider if set and registered,
// otherwise the first registered provider — token counting does not
// participate in failover since it is an estimate, not a generation call.
func (r *Router) CountTokens(messages []types.Message, pinned string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if pinned != "" {
		if e, ok := r.byName[pinned]; ok {
			return e.provider.CountTokens(messages)
		}
	}
	if len(r.order) == 0 {
		return 0, ErrNoProviders
	}
	return r.order[0].provider.CountTokens(messages)
}
