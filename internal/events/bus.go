// Package events carries pipeline status to whatever presentation layer is
// attached. Publishing never blocks on, or requires, a subscriber.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/observability"
)

// Name identifies an event kind.
type Name string

const (
	RecordingStarted       Name = "recording-started"
	RecordingStopped       Name = "recording-stopped"
	TranscriptionPartial   Name = "transcription-partial"
	TranscriptionFinal     Name = "transcription-final"
	ProcessingStageChanged Name = "processing-stage-changed"
	ProcessingError        Name = "processing-error"
	EnrichmentReady        Name = "enrichment-ready"
)

// Processing stages reported with ProcessingStageChanged.
const (
	StageTranscribing = "transcribing"
	StageEnriching    = "enriching"
	StageAnswering    = "answering"
	StageSpeaking     = "speaking"
	StageIdle         = "idle"
)

// Event is one published notification. Payload is JSON-serialisable.
type Event struct {
	Name      Name      `json:"name"`
	Slot      string    `json:"slot,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. Handlers run synchronously on the publisher's
// goroutine and must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    Name // empty matches every event
	handler Handler
}

// Bus is a process-local observer registry.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{logger: observability.ForComponent("events")}
}

// Subscribe registers handler for one event name and returns a function
// removing it.
func (b *Bus) Subscribe(name Name, handler Handler) (unsubscribe func()) {
	return b.add(name, handler)
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	return b.add("", handler)
}

func (b *Bus) add(name Name, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to every matching handler in subscription order.
// A panicking handler is logged and does not affect the others. Publish on a
// nil Bus is a no-op.
func (b *Bus) Publish(name Name, slot string, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	if len(b.subs) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == "" || s.name == name {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	ev := Event{Name: name, Slot: slot, Payload: payload, Timestamp: time.Now().UTC()}
	for _, h := range targets {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event", string(ev.Name)).Msg("Event handler panicked")
		}
	}()
	h(ev)
}
