package common

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBroadcaster_FansOut(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	b := NewBroadcaster(first, second)

	event := Event{Type: "algorithm_switch", Source: "profit", Time: time.Now()}
	b.Publish(event)

	require.Len(t, first.all(), 1)
	require.Len(t, second.all(), 1)
	assert.Equal(t, "profit", first.all()[0].Source)
}

func TestBroadcaster_AttachAfterPublish(t *testing.T) {
	b := NewBroadcaster()

	// Events published before any sink attaches just vanish
	b.Publish(Event{Type: "early"})

	late := &recordingSink{}
	b.Attach(late)
	b.Publish(Event{Type: "late"})

	events := late.all()
	require.Len(t, events, 1)
	assert.Equal(t, "late", events[0].Type)
}

func TestBroadcaster_IgnoresNilSink(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Attach(nil)

	assert.NotPanics(t, func() {
		b.Publish(Event{Type: "noop"})
	})
}

func TestNopSink(t *testing.T) {
	var sink EventSink = NopSink{}
	assert.NotPanics(t, func() { sink.Publish(Event{Type: "ignored"}) })
}
