package event

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(Event{Type: TypeStatus, Status: "RUNNING"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Type != TypeStatus || e.Status != "RUNNING" {
				t.Errorf("%s: unexpected event %+v", name, e)
			}
			if e.At.IsZero() {
				t.Errorf("%s: expected timestamp to be set", name)
			}
		case <-time.After(time.Second):
			t.Errorf("%s: no event received", name)
		}
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: TypeDuration, Duration: 1})
		bus.Publish(Event{Type: TypeDuration, Duration: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if e := <-ch; e.Duration != 1 {
		t.Errorf("Expected first event kept, got %+v", e)
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("Expected closed channel after cancel")
	}
	bus.Publish(Event{Type: TypeCompleted})
}
