package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm"
)

// StreamState tracks one in-flight stream so a caller can cancel it by ID.
type StreamState struct {
	ID         string
	ProviderID string
	StartedAt  time.Time

	cancel context.CancelFunc
}

// streamRegistry is the router's process-local table of active streams.
type streamRegistry struct {
	mu     sync.Mutex
	active map[string]*StreamState
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{active: make(map[string]*StreamState)}
}

func (r *streamRegistry) register(s *StreamState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[s.ID] = s
}

func (r *streamRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Cancel stops the stream with the given ID, if it is still active, and
// removes it from the registry. It reports whether a stream was found.
func (r *streamRegistry) Cancel(id string) bool {
	r.mu.Lock()
	s, ok := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// StreamHandle is returned by [Router.StreamChat]: the stream's ID (for
// cancellation) plus the chunk channel.
type StreamHandle struct {
	ID         string
	ProviderID string
	Chunks     <-chan llm.Chunk
}

// CancelStream cancels the stream with the given ID. It reports whether a
// stream with that ID was still active.
func (r *Router) CancelStream(id string) bool {
	return r.streams.Cancel(id)
}

// StreamChat resolves candidates exactly as Chat does, then streams from the
// first one that accepts the request. Providers whose capabilities report
// no streaming support instead receive a synthetic single-chunk stream built
// from a plain Complete call (EnableFallback is not consulted here — synthetic fallback always applies,
// since it isn't a provider failure).
func (r *Router) StreamChat(ctx context.Context, req ChatRequest) (*StreamHandle, error) {
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
		handle, err := r.startStream(ctx, c, req)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !req.EnableFallback || i == len(candidates)-1 {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func (r *Router) startStream(ctx context.Context, c *entry, req ChatRequest) (*StreamHandle, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	if !c.provider.Capabilities().SupportsStreaming {
		resp, err := r.attempt(streamCtx, c, req)
		cancel()
		if err != nil {
			return nil, err
		}
		out := make(chan llm.Chunk, 1)
		out <- llm.Chunk{Text: resp.Content, FinishReason: "stop", ToolCalls: resp.ToolCalls}
		close(out)
		return &StreamHandle{ID: uuid.NewString(), ProviderID: c.name, Chunks: out}, nil
	}

	var raw <-chan llm.Chunk
	err := c.breaker.Execute(func() error {
		var innerErr error
		raw, innerErr = c.provider.StreamCompletion(streamCtx, req.CompletionRequest)
		return innerErr
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}

	state := &StreamState{ID: uuid.NewString(), ProviderID: c.name, StartedAt: time.Now(), cancel: cancel}
	r.streams.register(state)

	out := make(chan llm.Chunk)
	go r.pumpStream(streamCtx, state, c, raw, out)

	return &StreamHandle{ID: state.ID, ProviderID: c.name, Chunks: out}, nil
}

// pumpStream relays chunks from the provider's raw channel, recording usage
// and stats once a terminal chunk arrives, and deregisters the stream state
// on exit whether it finished, errored, or was cancelled. On cancellation it
// sends a synthetic terminal chunk with FinishReason "cancelled" — best
// effort, never blocking on a consumer that has stopped reading — and, if
// the provider had already reported partial usage, records exactly one
// UsageRecord for it.
func (r *Router) pumpStream(ctx context.Context, state *StreamState, c *entry, raw <-chan llm.Chunk, out chan<- llm.Chunk) {
	defer close(out)
	defer r.streams.remove(state.ID)

	var lastUsage *llm.Usage

	cancelled := func() {
		select {
		case out <- llm.Chunk{FinishReason: "cancelled"}:
		default:
		}
		if lastUsage == nil {
			return
		}
		// The caller's ctx is already cancelled/done here; use a fresh
		// context so the partial-usage ledger write still lands.
		cost := r.estimateCost(c, *lastUsage)
		r.recordUsage(context.Background(), c, *lastUsage, cost)
	}

	for chunk := range raw {
		if chunk.Usage != nil {
			lastUsage = chunk.Usage
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			cancelled()
			return
		}

		if chunk.FinishReason == "" {
			continue
		}
		if chunk.FinishReason == "error" {
			return
		}

		usage := llm.Usage{}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		latency := time.Since(state.StartedAt)
		cost := r.estimateCost(c, usage)
		r.stats.Record(c.name, cost, latency)
		r.recordUsage(ctx, c, usage, cost)
	}

	if ctx.Err() != nil {
		cancelled()
	}
}
