package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relistly/agentbroker/client"
	"github.com/relistly/agentbroker/internal/wire"
)

// waiters fans the session's event stream out to per-event-type
// waiters. Events that arrive before anyone waits on them still count:
// a wait for an already-seen type returns immediately.
type waiters struct {
	mu      sync.Mutex
	seen    map[string]int
	pending map[string][]chan error
	closed  bool

	done chan struct{}
}

func newWaiters(frames <-chan client.Frame) *waiters {
	w := &waiters{
		seen:    make(map[string]int),
		pending: make(map[string][]chan error),
		done:    make(chan struct{}),
	}
	go w.consume(frames)
	return w
}

func (w *waiters) consume(frames <-chan client.Frame) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				w.close()
				return
			}
			w.dispatch(frame)
		case <-w.done:
			return
		}
	}
}

// dispatch records the frame and releases matching waiters. An ERROR
// frame is advisory: it unblocks every pending waiter (the
// authoritative failure arrives on the HTTP response), but does not
// poison later waits.
func (w *waiters) dispatch(frame client.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if frame.Type == wire.EventError {
		err := fmt.Errorf("session reported %s while waiting", wire.EventError)
		for event, chans := range w.pending {
			for _, ch := range chans {
				ch <- err
			}
			delete(w.pending, event)
		}
		return
	}

	w.seen[frame.Type]++
	for _, ch := range w.pending[frame.Type] {
		ch <- nil
	}
	delete(w.pending, frame.Type)
}

// close releases all pending waiters with a stream-closed error and
// fails any future wait immediately.
func (w *waiters) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	for event, chans := range w.pending {
		for _, ch := range chans {
			ch <- fmt.Errorf("event stream closed before %s", event)
		}
		delete(w.pending, event)
	}
}

// wait blocks until one event of the given type has been observed, the
// timeout elapses, or ctx is cancelled.
func (w *waiters) wait(ctx context.Context, event string, timeout time.Duration) error {
	w.mu.Lock()
	if w.seen[event] > 0 {
		w.seen[event]--
		w.mu.Unlock()
		return nil
	}
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("event stream closed before %s", event)
	}
	ch := make(chan error, 1)
	w.pending[event] = append(w.pending[event], ch)
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		w.remove(event, ch)
		return fmt.Errorf("timed out after %s waiting for %s", timeout, event)
	case <-ctx.Done():
		w.remove(event, ch)
		return ctx.Err()
	}
}

func (w *waiters) remove(event string, ch chan error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chans := w.pending[event]
	for i, c := range chans {
		if c == ch {
			w.pending[event] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}

// stop detaches from the stream.
func (w *waiters) stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
