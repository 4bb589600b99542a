package events

import (
	"sync"
	"testing"
)

func TestBusPublishDeliversToAllSinks(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var received []LifecycleEvent

	bus.Register(SinkFunc(func(e LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}))
	bus.Register(SinkFunc(func(e LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}))

	bus.Publish(KindPositionOpened, map[string]string{"id": "pos-1"}, 1700000000)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("got %d deliveries, want 2 (one per sink)", len(received))
	}
	for _, e := range received {
		if e.Kind != KindPositionOpened {
			t.Errorf("got kind %q, want %q", e.Kind, KindPositionOpened)
		}
	}
}

func TestBusSurvivesPanickingSink(t *testing.T) {
	bus := NewBus()

	called := false
	bus.Register(SinkFunc(func(e LifecycleEvent) {
		panic("sink exploded")
	}))
	bus.Register(SinkFunc(func(e LifecycleEvent) {
		called = true
	}))

	bus.Publish(KindPositionClosed, nil, 1700000000)

	if !called {
		t.Error("a panicking sink must not prevent delivery to the remaining sinks")
	}
}

func TestBusNoSinksIsANoop(t *testing.T) {
	bus := NewBus()
	bus.Publish(KindTradeBlocked, nil, 0) // must not panic
}
