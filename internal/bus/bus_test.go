package bus

import (
	"testing"

	"github.com/relistly/agentbroker/internal/wire"
)

func TestPublishOrderAndTimestamps(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(wire.EventOpening, map[string]any{"url": "https://www.ebay.com/sell"})
	b.Publish(wire.EventOpenedForm, nil)
	b.Publish(wire.EventFilledFields, map[string]any{"count": 3})

	want := []string{wire.EventOpening, wire.EventOpenedForm, wire.EventFilledFields}
	var lastTS int64
	for i, wantType := range want {
		frame := <-ch
		if frame.Type != wantType {
			t.Errorf("frame %d type = %q, want %q", i, frame.Type, wantType)
		}
		if frame.Timestamp < lastTS {
			t.Errorf("frame %d timestamp %d went backwards from %d", i, frame.Timestamp, lastTS)
		}
		lastTS = frame.Timestamp
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Overfill the buffer without draining; the oldest frames give way.
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(wire.EventFilledFields, map[string]any{"seq": i})
	}

	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("buffered frames = %d, want %d", got, subscriberBuffer)
	}

	first := <-ch
	seq, _ := first.Data.(map[string]any)["seq"].(int)
	if seq != 5 {
		t.Errorf("first surviving frame seq = %d, want 5 (oldest dropped)", seq)
	}
}

func TestCloseEndsSubscribers(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe()

	b.Publish(wire.EventSubmitted, nil)
	b.Close()
	b.Close() // idempotent
	b.Publish(wire.EventPublished, nil)

	frame, ok := <-ch
	if !ok || frame.Type != wire.EventSubmitted {
		t.Fatalf("expected buffered frame before close, got ok=%v type=%q", ok, frame.Type)
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after bus close")
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	b := New()
	b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("subscription on a closed bus should be immediately closed")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe()
	cancel()
	cancel()

	// Publishing after the only subscriber left must not panic.
	b.Publish(wire.EventError, nil)
}
