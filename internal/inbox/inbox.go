// Package inbox provides a typed, buffered channel whose senders give up
// after a timeout instead of blocking forever.
package inbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Inbox carries messages of type T from many producers to one consumer
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

// Stats is a snapshot of inbox traffic
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
}

// New creates an inbox with the given buffer size and send timeout
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send delivers msg, giving up after the inbox timeout or when ctx ends.
// Returns true if the message was queued.
func (ib *Inbox[T]) Send(ctx context.Context, msg T) bool {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.sent.Add(1)
		return true
	case <-timer.C:
		ib.dropped.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	case <-ctx.Done():
		ib.dropped.Add(1)
		return false
	}
}

// C exposes the receive side for select loops. Callers that read from it
// should call Ack so the stats stay accurate.
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// Ack counts a message taken directly from C
func (ib *Inbox[T]) Ack() {
	ib.received.Add(1)
}

// Stats returns the current traffic counters
func (ib *Inbox[T]) Stats() Stats {
	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		TimeoutCount:  ib.dropped.Load(),
		CurrentDepth:  len(ib.ch),
	}
}
