package resilience

import (
	"context"

	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm"
	"github.com/inkbound-tabletop/inkbound-core/pkg/types"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// ID returns the primary entry's identifier. Fallback entries each keep their
// own ID; this method reports the group's own stable key for ProviderStats.
func (f *LLMFallback) ID() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.ID()
	}
	return "llm-fallback"
}

// Model returns the primary entry's model name.
func (f *LLMFallback) Model() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Model()
	}
	return ""
}

// Pricing returns the primary entry's pricing. A caller that needs the
// pricing of whichever provider actually served a request should read it
// from the provider returned by a lower-level lookup instead; this group-level
// method is informational only.
func (f *LLMFallback) Pricing() (llm.Pricing, bool) {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Pricing()
	}
	return llm.Pricing{}, false
}

// HealthCheck reports healthy if any entry in the group is healthy.
func (f *LLMFallback) HealthCheck(ctx context.Context) bool {
	for _, e := range f.group.entries {
		if e.value.HealthCheck(ctx) {
			return true
		}
	}
	return false
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion sends the request to the first healthy provider and returns a
// streaming chunk channel. Note: only the initial connection attempt is covered
// by failover; once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy provider's token counter.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
