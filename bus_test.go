package vigil

import (
	"testing"
	"time"
)

func drainOne(t *testing.T, sub *Subscriber) Envelope {
	t.Helper()
	select {
	case env := <-sub.Events():
		return env
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Envelope{}
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Log("one")
	bus.Log("two")
	bus.Log("three")

	for _, want := range []string{"one", "two", "three"} {
		env := drainOne(t, sub)
		if env.Type != EventLog {
			t.Fatalf("type = %s, want log", env.Type)
		}
		if env.Data["text"] != want {
			t.Errorf("text = %v, want %s", env.Data["text"], want)
		}
	}
}

func TestBusEnvelopeTimestamp(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Status(StateRunning, "go")
	env := drainOne(t, sub)
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", env.Timestamp, err)
	}
	if env.Data["status"] != string(StateRunning) {
		t.Errorf("status = %v", env.Data["status"])
	}
}

func TestBusNoReplayForLateSubscriber(t *testing.T) {
	bus := NewBus(nil)
	early := bus.Subscribe()
	defer early.Close()

	bus.Log("before")

	late := bus.Subscribe()
	defer late.Close()
	select {
	case env := <-late.Events():
		t.Fatalf("late subscriber received replayed event: %v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusAsyncDropsWhenFull(t *testing.T) {
	bus := NewBus(nil)
	bus.queueSize = 2
	sub := bus.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		bus.ThoughtChunk("x")
	}
	// Queue holds at most 2; the rest were dropped, nothing blocked.
	if n := len(sub.ch); n > 2 {
		t.Errorf("queue holds %d, want <= 2", n)
	}
}

func TestBusDropsSlowSubscriberOnOrderedSend(t *testing.T) {
	bus := NewBus(nil)
	bus.queueSize = 1
	bus.sendTimeout = 20 * time.Millisecond

	slow := bus.Subscribe()
	bus.Log("fills the queue")
	bus.Log("forces the timeout") // not consumed: subscriber dropped

	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("subscriber count = %d, want 0 after drop", got)
	}
	// The closed channel still yields the queued event, then closes.
	<-slow.Events()
	if _, ok := <-slow.Events(); ok {
		t.Error("expected closed channel after drop")
	}
}

func TestBusUnsubscribeIdempotentish(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // a second close is a no-op
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("count = %d after close", got)
	}
	bus.Log("after close") // must not panic
}
