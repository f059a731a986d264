package events

import (
	"testing"
	"time"
)

func TestBus_PublishDeliversToMatchingSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe(IngestProgress)
	defer unsubscribe()

	b.Publish(Event{Name: IngestProgress, Payload: IngestProgressPayload{LibraryItemID: "abc", Phase: "extract"}})

	select {
	case evt := <-ch:
		payload, ok := evt.Payload.(IngestProgressPayload)
		if !ok || payload.LibraryItemID != "abc" {
			t.Fatalf("unexpected payload: %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestBus_SubscriberIgnoresOtherEventNames(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe(ChatChunk)
	defer unsubscribe()

	b.Publish(Event{Name: IngestProgress, Payload: IngestProgressPayload{}})

	select {
	case evt := <-ch:
		t.Fatalf("expected no delivery, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_EmptyNameSubscribesToEverything(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe("")
	defer unsubscribe()

	b.Publish(Event{Name: ChatError, Payload: ChatErrorPayload{Message: "boom"}})

	select {
	case evt := <-ch:
		if evt.Name != ChatError {
			t.Fatalf("expected %q, got %q", ChatError, evt.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe(ChatChunk)
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus()
	_, unsubscribe := b.Subscribe(ChatChunk) // never drained
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultChanDepth+10; i++ {
			b.Publish(Event{Name: ChatChunk, Payload: ChatChunkPayload{Delta: "x"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}
