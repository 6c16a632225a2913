package eventbus

import (
	"sync/atomic"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	var got int32
	b.Subscribe(SessionSynced, func(e Event) {
		if id, ok := e.Data.(string); ok && id == "sess-1" {
			atomic.AddInt32(&got, 1)
		}
	})

	b.Publish(SessionSynced, "sess-1")
	b.Publish(SessionCreated, "sess-2") // different type, should not match

	if atomic.LoadInt32(&got) != 1 {
		t.Fatalf("expected listener invoked once, got %d", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe(ProjectUpdated, func(Event) { calls++ })
	b.Publish(ProjectUpdated, nil)
	unsub()
	b.Publish(ProjectUpdated, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}
