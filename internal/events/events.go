// Package events implements the host-facing event bus named in §6.4: a
// process-local publish/subscribe fan-out for ingest.progress, chat.chunk,
// chat.complete, chat.error, router.provider_state_changed, and
// search.corrections notifications.
//
// The bus has no persistence and no replay — it exists purely to decouple
// the pipeline stages that produce an event (the ingestion pipeline, the
// router's state-change hook, the RAG orchestrator) from whatever consumes
// it next (a host IPC shell, a log sink, a test). A subscriber that falls
// behind drops events rather than blocking the publisher, mirroring
// [router.streamRegistry]'s "never let a slow reader stall the producer"
// shape.
package events

import (
	"sync"
)

// Event is one notification published on the bus. Name identifies the event
// kind (e.g. "ingest.progress") and Payload carries the kind-specific data
// described in spec.md §6.4.
type Event struct {
	Name    string
	Payload any
}

// subscriber is one registered listener's delivery channel.
type subscriber struct {
	id   uint64
	ch   chan Event
	name string // empty means "all events"
}

// Bus fans out published [Event] values to every subscriber registered for
// that event's name (or registered for all names). It is safe for
// concurrent use.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	chanDepth int
}

// defaultChanDepth bounds how many unread events a slow subscriber may
// accumulate before new events are dropped for it.
const defaultChanDepth = 64

// NewBus returns a ready-to-use [Bus].
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber), chanDepth: defaultChanDepth}
}

// Subscribe registers a listener for events named name, or for every event
// when name is empty. It returns a receive-only channel of events and an
// unsubscribe function that must be called once the listener is done.
func (b *Bus) Subscribe(name string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan Event, b.chanDepth), name: name}
	b.subs[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers evt to every subscriber whose registration matches its
// name. Delivery is non-blocking: a subscriber whose channel is full misses
// the event instead of stalling the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.name != "" && sub.name != evt.Name {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Event name constants, per spec.md §6.4.
const (
	IngestProgress             = "ingest.progress"
	ChatChunk                  = "chat.chunk"
	ChatComplete               = "chat.complete"
	ChatError                  = "chat.error"
	RouterProviderStateChanged = "router.provider_state_changed"
	SearchCorrections          = "search.corrections"
)

// IngestProgressPayload is the payload of an [IngestProgress] event.
type IngestProgressPayload struct {
	LibraryItemID string
	Phase         string
	PagesDone     int
	PagesTotal    int
}

// ChatChunkPayload is the payload of a [ChatChunk] event.
type ChatChunkPayload struct {
	StreamID     string
	Delta        string
	FinishReason string
}

// ChatCompletePayload is the payload of a [ChatComplete] event.
type ChatCompletePayload struct {
	StreamID string
	CostUSD  float64
	Sources  []string
}

// ChatErrorPayload is the payload of a [ChatError] event.
type ChatErrorPayload struct {
	StreamID string
	Message  string
}

// RouterProviderStateChangedPayload is the payload of a
// [RouterProviderStateChanged] event.
type RouterProviderStateChangedPayload struct {
	ProviderID string
	From       string
	To         string
}

// SearchCorrectionsPayload is the payload of a [SearchCorrections] event.
type SearchCorrectionsPayload struct {
	Query       string
	Corrections []string
}
