package workers

import (
	"context"
	"log/slog"
	"sync"
)

// InboxWorker processes the inbound payloads of one connection in arrival
// order, outside of the socket read loop so that slow store calls never
// delay pong handling. The queue is unbounded: every payload read from the
// socket is handled.
type InboxWorker struct {
	log    *slog.Logger
	handle func(ctx context.Context, payload []byte)

	mu       sync.Mutex
	payloads [][]byte
	wake     chan struct{}
}

func NewInboxWorker(log *slog.Logger, handle func(ctx context.Context, payload []byte)) *InboxWorker {
	return &InboxWorker{log: log, handle: handle, wake: make(chan struct{}, 1)}
}

// Enqueue never blocks.
func (w *InboxWorker) Enqueue(payload []byte) {
	w.mu.Lock()
	w.payloads = append(w.payloads, payload)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of queued payloads not yet taken by Run.
func (w *InboxWorker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.payloads)
}

func (w *InboxWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := w.Pending(); n > 0 {
				w.log.Debug("Inbox stopped with pending payloads", "pending", n)
			}
			return nil
		case <-w.wake:
		}
		for ctx.Err() == nil {
			payload, ok := w.next()
			if !ok {
				break
			}
			w.handle(ctx, payload)
		}
	}
}

func (w *InboxWorker) next() ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.payloads) == 0 {
		return nil, false
	}
	payload := w.payloads[0]
	w.payloads[0] = nil
	w.payloads = w.payloads[1:]
	return payload, true
}
