package router

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm"
	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm/mock"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

func newTestCostTracker(t *testing.T) (*CostTracker, *storage.Store) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg17",
		postgres.WithDatabase("inkbound"),
		postgres.WithUsername("inkbound"),
		postgres.WithPassword("inkbound"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	q := u.Query()
	q.Del("sslmode")
	u.RawQuery = q.Encode()

	store, err := storage.NewStore(ctx, storage.Config{DSN: u.String() + "?sslmode=disable", EmbeddingDimensions: 4})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return NewCostTracker(store, BudgetConfig{}), store
}

// TestPumpStream_CancellationSendsTerminalCancelledChunk exercises Scenario
// F: a cancelled stream must still deliver a terminal chunk carrying
// FinishReason == "cancelled" rather than silently closing handle.Chunks.
// out is buffered so the non-blocking terminal send can't race a reader
// that hasn't reached its next receive yet.
func TestPumpStream_CancellationSendsTerminalCancelledChunk(t *testing.T) {
	t.Parallel()

	r := New(PriorityStrategy{})
	c := &entry{name: "primary", provider: &mock.Provider{}}

	ctx, cancel := context.WithCancel(context.Background())
	raw := make(chan llm.Chunk)
	out := make(chan llm.Chunk, 4)
	state := &StreamState{ID: "stream-1", ProviderID: c.name, StartedAt: time.Now(), cancel: cancel}
	r.streams.register(state)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.pumpStream(ctx, state, c, raw, out)
	}()

	raw <- llm.Chunk{Text: "a"}
	require.Equal(t, "a", (<-out).Text)

	// Simulate a well-behaved provider: once cancelled, it closes its
	// channel without emitting a FinishReason chunk.
	cancel()
	close(raw)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pumpStream never returned after cancellation")
	}

	got, ok := <-out
	require.True(t, ok, "expected a terminal chunk, got closed channel")
	require.Equal(t, "cancelled", got.FinishReason)
}

// TestPumpStream_CancellationRecordsPartialUsage exercises Scenario F's "if
// the provider reported partial usage, exactly one UsageRecord reflecting
// the partial completion is appended" requirement.
func TestPumpStream_CancellationRecordsPartialUsage(t *testing.T) {
	t.Parallel()

	tracker, store := newTestCostTracker(t)

	r := New(PriorityStrategy{}, WithBudget(tracker))
	provider := &mock.Provider{
		PricingValue: llm.Pricing{InputPerToken: 0.01, OutputPerToken: 0.02},
		PricingKnown: true,
	}
	c := &entry{name: "primary", provider: provider}

	ctx, cancel := context.WithCancel(context.Background())
	raw := make(chan llm.Chunk)
	out := make(chan llm.Chunk, 4)
	state := &StreamState{ID: "stream-2", ProviderID: c.name, StartedAt: time.Now(), cancel: cancel}
	r.streams.register(state)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.pumpStream(ctx, state, c, raw, out)
	}()

	raw <- llm.Chunk{
		Text:  "partial",
		Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	require.Equal(t, "partial", (<-out).Text)

	cancel()
	close(raw)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pumpStream never returned after cancellation")
	}

	got, ok := <-out
	require.True(t, ok)
	require.Equal(t, "cancelled", got.FinishReason)

	total, err := store.TotalCostSince(context.Background(), time.Now().Add(-time.Hour).Unix())
	require.NoError(t, err)
	require.InDelta(t, 10*0.01+5*0.02, total, 0.0001)
}
