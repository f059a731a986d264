package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inkbound-tabletop/inkbound-core/internal/events"
	"github.com/inkbound-tabletop/inkbound-core/internal/observe"
	"github.com/inkbound-tabletop/inkbound-core/pkg/rag"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
	"github.com/inkbound-tabletop/inkbound-core/pkg/types"
)

// SessionManager tracks which chat sessions are currently open and appends
// each exchange to the Storage Core's append-only transcript. A "session"
// here is a chat conversation (one per persona/channel), not a voice
// connection — the transcript itself lives in Postgres via [storage.Store];
// this type only tracks liveness for the ActiveSessions gauge and loads
// history on demand.
type SessionManager struct {
	mu     sync.Mutex
	store  *storage.Store
	active map[string]time.Time

	metrics *observe.Metrics
	bus     *events.Bus
}

// NewSessionManager builds a [SessionManager] over the given storage core.
func NewSessionManager(store *storage.Store, metrics *observe.Metrics, bus *events.Bus) *SessionManager {
	return &SessionManager{
		store:   store,
		active:  make(map[string]time.Time),
		metrics: metrics,
		bus:     bus,
	}
}

// Open marks sessionID as active, starting the ActiveSessions gauge
// tracking it. Calling Open on an already-open session refreshes its last
// activity time without double-counting the gauge.
func (m *SessionManager) Open(ctx context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	m.active[sessionID] = time.Now()
}

// Close marks sessionID inactive, decrementing the ActiveSessions gauge.
// Closing an unknown or already-closed session is a no-op.
func (m *SessionManager) Close(ctx context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; exists {
		delete(m.active, sessionID)
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
}

// History loads the session's transcript, trimmed to limit, for use as
// [rag.Request.History].
func (m *SessionManager) History(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	msgs, err := m.store.GetChatHistory(ctx, sessionID, false, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, types.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return out, nil
}

// recordExchange appends the user question and the generated answer to the
// session's transcript and publishes a [events.ChatComplete] event. Storage
// failures are logged, not returned: a transcript write failure must never
// mask a successful answer from the caller.
func (m *SessionManager) recordExchange(ctx context.Context, req rag.Request, resp *rag.Response) {
	if req.SessionID == "" {
		return
	}
	m.Open(ctx, req.SessionID)

	if err := m.store.AppendChatMessage(ctx, storage.ChatMessage{
		SessionID: req.SessionID,
		Role:      storage.RoleUser,
		Content:   req.Question,
	}); err != nil {
		slog.Warn("app: failed to record user message", "session_id", req.SessionID, "err", err)
	}

	sources := make([]string, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		sources = append(sources, s.ChunkID)
	}
	if err := m.store.AppendChatMessage(ctx, storage.ChatMessage{
		SessionID: req.SessionID,
		Role:      storage.RoleAssistant,
		Content:   resp.Answer,
		Sources:   sources,
	}); err != nil {
		slog.Warn("app: failed to record assistant message", "session_id", req.SessionID, "err", err)
	}

	m.bus.Publish(events.Event{
		Name: events.ChatComplete,
		Payload: events.ChatCompletePayload{
			StreamID: req.SessionID,
			Sources:  sources,
		},
	})
}
