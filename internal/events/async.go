package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/authgate/internal/logging"
)

// ErrBufferFull is returned when the async queue cannot take another event.
var ErrBufferFull = errors.New("event buffer full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

const asyncPublishTimeout = 5 * time.Second

// AsyncPublisher queues events and hands them to the wrapped publisher from
// one background goroutine, keeping broker latency off the request path.
type AsyncPublisher struct {
	next   Publisher
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewAsync starts the delivery goroutine. buffer bounds the queue.
func NewAsync(next Publisher, buffer int, logger logging.Logger) *AsyncPublisher {
	a := &AsyncPublisher{
		next:   next,
		logger: logger.With("module", "events"),
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		if err := a.next.Publish(ctx, e); err != nil {
			a.logger.Warn(ctx, "event publish failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Publish enqueues e without blocking.
func (a *AsyncPublisher) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting events, delivers what is queued and closes the
// wrapped publisher.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
