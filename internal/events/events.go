// Package events defines the engine's single outbound LifecycleEvent
// stream and an in-process fan-out Bus that plugin sinks subscribe to.
// Sinks are registered at construction; the engine never holds a
// back-reference to one, matching the event-emitter decoupling called for
// in the design notes (the teacher's event bus instead notified listeners
// it held direct references to).
package events

import (
	"sync"

	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

// Kind identifies a LifecycleEvent's payload shape.
type Kind string

const (
	KindPositionOpened    Kind = "position_opened"
	KindPartialFilled     Kind = "partial_filled"
	KindPositionClosed    Kind = "position_closed"
	KindManualReviewNeeded Kind = "manual_review_needed"
	KindTradeBlocked      Kind = "trade_blocked"
)

// LifecycleEvent is the one shape every sink receives. Data carries the
// kind-specific payload (a *position.Position snapshot, or a block reason
// for trade_blocked) rather than a typed union, so sinks that only
// care about serializing to JSON (the websocket sink) need no knowledge of
// the engine's internal types.
type LifecycleEvent struct {
	Kind      Kind        `json:"kind"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Sink receives every published event. The Bus calls each sink
// synchronously on the publisher's goroutine and never times out or
// disconnects a sink, so implementations must not block for long.
type Sink interface {
	Publish(LifecycleEvent)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(LifecycleEvent)

// Publish calls f.
func (f SinkFunc) Publish(e LifecycleEvent) { f(e) }

// Bus fans a single LifecycleEvent stream out to every registered sink.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *logging.Logger
}

// NewBus builds an empty event bus.
func NewBus() *Bus {
	return &Bus{log: logging.GetDefault().Component("events")}
}

// Register adds a sink. Registration only happens at construction time in
// the engine's intended usage, but Register is safe to call at any time.
func (b *Bus) Register(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers an event to every registered sink. A sink that panics
// is recovered and logged so one misbehaving plugin cannot take down the
// engine's own state transitions.
func (b *Bus) Publish(kind Kind, data interface{}, nowUnix int64) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	event := LifecycleEvent{Kind: kind, Timestamp: nowUnix, Data: data}
	for _, s := range sinks {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s Sink, event LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event sink panicked", "kind", event.Kind, "recovered", r)
		}
	}()
	s.Publish(event)
}
