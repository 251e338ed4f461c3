package broadcast

import (
	"testing"

	"github.com/adityakinifr/ccmonitor/internal/store"
)

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	ch1, cancel1 := hub.Subscribe()
	defer cancel1()
	ch2, cancel2 := hub.Subscribe()
	defer cancel2()

	hub.Publish(Message{Kind: KindEvent, Event: &store.Event{ID: "ev-1"}})

	for i, ch := range []<-chan Message{ch1, ch2} {
		select {
		case msg := <-ch:
			if msg.Kind != KindEvent || msg.Event == nil || msg.Event.ID != "ev-1" {
				t.Fatalf("subscriber %d got %+v", i, msg)
			}
		default:
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1)
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Message{Kind: KindSession, Session: &store.Session{ID: "sess-1"}})
	// The buffer is full now; this must return without blocking.
	hub.Publish(Message{Kind: KindSession, Session: &store.Session{ID: "sess-2"}})

	msg := <-ch
	if msg.Session.ID != "sess-1" {
		t.Fatalf("got %s, want sess-1", msg.Session.ID)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra message %+v", extra)
	default:
	}
}

func subscriberCount(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func TestHub_CancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	if n := subscriberCount(hub); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	cancel()
	cancel() // idempotent
	if n := subscriberCount(hub); n != 0 {
		t.Fatalf("subscribers after cancel = %d, want 0", n)
	}
	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}

	// Publishing after cancel must not panic.
	hub.Publish(Message{Kind: KindEvent})
}

func TestHub_CloseShutsDownSubscribers(t *testing.T) {
	hub := NewHub(4)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Close()
	if _, open := <-ch; open {
		t.Fatal("channel still open after Close")
	}

	late, lateCancel := hub.Subscribe()
	defer lateCancel()
	if _, open := <-late; open {
		t.Fatal("subscription after Close should be closed immediately")
	}
	hub.Publish(Message{Kind: KindEvent})
}
