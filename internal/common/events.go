package common

import (
	"sync"
	"time"
)

// Event is a broadcastable occurrence inside one of the decision engines
// (a switch, an alert transition, a recovery attempt). Consumers receive
// events over the WebSocket stream.
type Event struct {
	Type    string                 `json:"type"`
	Source  string                 `json:"source"`
	Time    time.Time              `json:"time"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// EventSink receives engine events for broadcast. Implementations must not
// block: engines publish from inside their own loop iteration.
type EventSink interface {
	Publish(event Event)
}

// NopSink discards all events. Used when no API server is wired.
type NopSink struct{}

// Publish implements EventSink
func (NopSink) Publish(Event) {}

// Broadcaster fans events out to every attached sink. Sinks may attach
// after the engines have captured the broadcaster, which lets consumers
// that depend on the engines (the WebSocket hub) join the stream last.
type Broadcaster struct {
	mu    sync.RWMutex
	sinks []EventSink
}

// NewBroadcaster creates a broadcaster with the given initial sinks
func NewBroadcaster(sinks ...EventSink) *Broadcaster {
	b := &Broadcaster{}
	for _, sink := range sinks {
		b.Attach(sink)
	}
	return b
}

// Attach adds a sink to the fan-out. Nil sinks are ignored.
func (b *Broadcaster) Attach(sink EventSink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Publish implements EventSink, forwarding to every attached sink in
// attachment order.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink.Publish(event)
	}
}
