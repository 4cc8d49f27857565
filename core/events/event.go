package events

import (
	"sync"

	"openbounty/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Typed wraps a types.Event so it satisfies Event.
type Typed struct {
	Evt *types.Event
}

func (t Typed) EventType() string {
	if t.Evt == nil {
		return ""
	}
	return t.Evt.Type
}

// Payload returns the wrapped event when evt carries one.
func Payload(evt Event) (*types.Event, bool) {
	switch v := evt.(type) {
	case Typed:
		return v.Evt, v.Evt != nil
	case *Typed:
		if v == nil {
			return nil, false
		}
		return v.Evt, v.Evt != nil
	default:
		return nil, false
	}
}

// Buffer holds events until Flush forwards them. A unit of work records into a
// Buffer and flushes only after it commits, so rolled back work emits nothing.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Flush forwards and clears the buffered events.
func (b *Buffer) Flush(to Emitter) {
	pending := b.events
	b.events = nil
	if to == nil {
		return
	}
	for _, evt := range pending {
		to.Emit(evt)
	}
}

// Reset discards buffered events.
func (b *Buffer) Reset() {
	b.events = nil
}

// Fanout delivers each event to every registered emitter.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewFanout builds a fan-out over the supplied emitters, skipping nils.
func NewFanout(emitters ...Emitter) *Fanout {
	f := &Fanout{}
	for _, e := range emitters {
		f.Add(e)
	}
	return f
}

// Add registers another emitter.
func (f *Fanout) Add(e Emitter) {
	if e == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, e)
	f.mu.Unlock()
}

func (f *Fanout) Emit(evt Event) {
	f.mu.RLock()
	targets := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()
	for _, e := range targets {
		e.Emit(evt)
	}
}
