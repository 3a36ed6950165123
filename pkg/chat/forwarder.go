package chat

import (
	"context"
	"log/slog"
)

// Forwarder queues messages handed over by the notebook controller for the
// chat surface to send. Forward never blocks; when the queue is full the
// message is dropped and logged.
type Forwarder struct {
	queue chan string
	log   *slog.Logger
}

// NewForwarder creates a forwarder with the given queue capacity.
func NewForwarder(capacity int) *Forwarder {
	if capacity < 1 {
		capacity = 1
	}
	return &Forwarder{
		queue: make(chan string, capacity),
		log:   slog.Default().With("component", "chat"),
	}
}

// Forward enqueues a message.
func (f *Forwarder) Forward(message string) {
	select {
	case f.queue <- message:
	default:
		f.log.Warn("Chat queue full, dropping forwarded message.", "message", message)
	}
}

// Messages returns the receive side of the queue.
func (f *Forwarder) Messages() <-chan string {
	return f.queue
}

// Next waits for the next forwarded message.
func (f *Forwarder) Next(ctx context.Context) (string, bool) {
	select {
	case m := <-f.queue:
		return m, true
	case <-ctx.Done():
		return "", false
	}
}

// Pending drains every queued message without waiting.
func (f *Forwarder) Pending() []string {
	var out []string
	for {
		select {
		case m := <-f.queue:
			out = append(out, m)
		default:
			return out
		}
	}
}
