package events

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe(8)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(8)
	defer cancel2()

	bus.Publish(TypeStatusChanged, StatusChangedPayload{From: "stopped", To: "starting"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != TypeStatusChanged {
				t.Errorf("subscriber %d: unexpected type %s", i, ev.Type)
			}
			if ev.ID == "" {
				t.Errorf("subscriber %d: missing event id", i)
			}
			payload, ok := ev.Payload.(StatusChangedPayload)
			if !ok {
				t.Fatalf("subscriber %d: unexpected payload type %T", i, ev.Payload)
			}
			if payload.To != "starting" {
				t.Errorf("subscriber %d: unexpected payload %+v", i, payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out waiting for event", i)
		}
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(16)
	defer cancel()

	states := []string{"starting", "running", "stopping", "stopped"}
	for _, s := range states {
		bus.Publish(TypeStatusChanged, StatusChangedPayload{To: s})
	}

	for _, want := range states {
		select {
		case ev := <-ch:
			got := ev.Payload.(StatusChangedPayload).To
			if got != want {
				t.Fatalf("out of order delivery: got %s, want %s", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow, cancelSlow := bus.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := bus.Subscribe(16)
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TypeLog, LogPayload{Line: "spam"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Fast subscriber got everything
	for i := 0; i < 10; i++ {
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber missing event %d", i)
		}
	}

	// Slow subscriber kept only its buffered event
	if got := len(slow); got != 1 {
		t.Errorf("slow subscriber holds %d events, want 1", got)
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(4)
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	cancel()
	cancel() // safe to call twice

	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic
	bus.Publish(TypeLog, LogPayload{Line: "after cancel"})
}
