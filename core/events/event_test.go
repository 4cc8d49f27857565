package events

import (
	"testing"

	"openbounty/core/types"
)

type recorder struct {
	seen []string
}

func (r *recorder) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestBufferFlushesInOrder(t *testing.T) {
	buf := &Buffer{}
	buf.Emit(Typed{Evt: &types.Event{Type: "a"}})
	buf.Emit(Typed{Evt: &types.Event{Type: "b"}})
	buf.Emit(nil)

	if got := len(buf.Events()); got != 2 {
		t.Fatalf("expected 2 buffered events, got %d", got)
	}
	rec := &recorder{}
	buf.Flush(rec)
	if len(rec.seen) != 2 || rec.seen[0] != "a" || rec.seen[1] != "b" {
		t.Fatalf("unexpected flush order: %v", rec.seen)
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("expected buffer to be empty after flush")
	}
}

func TestBufferResetDropsEvents(t *testing.T) {
	buf := &Buffer{}
	buf.Emit(Typed{Evt: &types.Event{Type: "dropped"}})
	buf.Reset()
	rec := &recorder{}
	buf.Flush(rec)
	if len(rec.seen) != 0 {
		t.Fatalf("expected no events after reset, got %v", rec.seen)
	}
}

func TestFanoutAndPayload(t *testing.T) {
	first := &recorder{}
	second := &recorder{}
	fan := NewFanout(first, nil, second)
	evt := Typed{Evt: &types.Event{Type: "bounty.created", Attributes: map[string]string{"k": "v"}}}
	fan.Emit(evt)
	if len(first.seen) != 1 || len(second.seen) != 1 {
		t.Fatalf("expected both emitters to receive the event")
	}
	payload, ok := Payload(evt)
	if !ok || payload.Attr("k") != "v" {
		t.Fatalf("expected payload attributes to be accessible")
	}
	if _, ok := Payload(nil); ok {
		t.Fatalf("nil event must not carry a payload")
	}
}
