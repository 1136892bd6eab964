package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/relistly/agentbroker/client"
	"github.com/relistly/agentbroker/internal/wire"
)

func TestWaitReturnsOnMatchingEvent(t *testing.T) {
	frames := make(chan client.Frame, 4)
	w := newWaiters(frames)
	defer w.stop()

	go func() {
		frames <- client.Frame{Type: wire.EventOpening, Timestamp: 1}
		frames <- client.Frame{Type: wire.EventOpenedForm, Timestamp: 2}
	}()

	if err := w.wait(context.Background(), wire.EventOpenedForm, time.Second); err != nil {
		t.Fatalf("wait() error = %v", err)
	}
}

func TestWaitSeesEarlierEvent(t *testing.T) {
	frames := make(chan client.Frame, 4)
	w := newWaiters(frames)
	defer w.stop()

	frames <- client.Frame{Type: wire.EventPublished, Timestamp: 1}
	// Give the consumer a moment to record it.
	time.Sleep(20 * time.Millisecond)

	if err := w.wait(context.Background(), wire.EventPublished, 50*time.Millisecond); err != nil {
		t.Fatalf("wait() for already-seen event error = %v", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	frames := make(chan client.Frame)
	w := newWaiters(frames)
	defer w.stop()

	err := w.wait(context.Background(), wire.EventPublished, 30*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("wait() error = %v, want timeout", err)
	}
}

func TestErrorFrameUnblocksWaiters(t *testing.T) {
	frames := make(chan client.Frame, 4)
	w := newWaiters(frames)
	defer w.stop()

	done := make(chan error, 1)
	go func() {
		done <- w.wait(context.Background(), wire.EventPublished, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	frames <- client.Frame{Type: wire.EventError, Timestamp: 1}
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("wait() = nil after ERROR frame, want error")
		}
	case <-time.After(time.Second):
		t.Fatal("ERROR frame did not unblock the waiter")
	}

	// A later success still satisfies a fresh wait; the ERROR did not
	// poison the stream.
	frames <- client.Frame{Type: wire.EventPublished, Timestamp: 2}
	time.Sleep(20 * time.Millisecond)
	if err := w.wait(context.Background(), wire.EventPublished, time.Second); err != nil {
		t.Fatalf("wait() after recovery error = %v", err)
	}
}

func TestStreamCloseFailsWaiters(t *testing.T) {
	frames := make(chan client.Frame)
	w := newWaiters(frames)
	defer w.stop()

	done := make(chan error, 1)
	go func() {
		done <- w.wait(context.Background(), wire.EventPublished, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	close(frames)
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "closed") {
			t.Fatalf("wait() error = %v, want stream-closed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream close did not unblock the waiter")
	}

	// Future waits fail fast.
	if err := w.wait(context.Background(), wire.EventPublished, time.Second); err == nil {
		t.Fatal("wait() on closed stream = nil, want error")
	}
}

func TestWaitContextCancel(t *testing.T) {
	frames := make(chan client.Frame)
	w := newWaiters(frames)
	defer w.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.wait(ctx, wire.EventPublished, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("wait() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock the waiter")
	}
}
