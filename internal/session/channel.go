package session

import (
	"context"
	"sync"
	"time"

	"github.com/bubblekit/backend/internal/buffer"
	"github.com/bubblekit/backend/internal/model"
)

// Item is one entry of a stream queue: either an event or the end marker.
type Item struct {
	Event model.Event
	End   bool
}

// Channel is the event sink of one stream. Emit may be called from any
// goroutine; events from one goroutine keep their order.
type Channel struct {
	queue *buffer.Queue[Item]

	mu     sync.Mutex
	sealed bool
	closed bool
}

// NewChannel creates a Channel with an empty queue.
func NewChannel() *Channel {
	return &Channel{
		queue: buffer.NewQueue[Item](),
	}
}

// Emit queues an event. It is a no-op once the channel is finished or closed.
func (c *Channel) Emit(event model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed || c.closed {
		return
	}
	c.queue.Push(Item{Event: event})
}

// Finish queues the terminal event followed by the end marker and seals the
// channel so nothing can be queued behind the terminal event. It returns
// false when the channel was already finished or closed.
func (c *Channel) Finish(terminal model.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed || c.closed {
		return false
	}
	c.sealed = true
	c.queue.Push(Item{Event: terminal}, Item{End: true})
	return true
}

// End queues the end marker without sealing the channel.
func (c *Channel) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.queue.Push(Item{End: true})
}

// Next waits up to timeout for the next queued item.
func (c *Channel) Next(ctx context.Context, timeout time.Duration) (Item, error) {
	return c.queue.Pop(ctx, timeout)
}

// Close stops further delivery. Calling Close more than once is safe.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// IsClosed returns true if the channel is closed.
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pending returns the number of queued items.
func (c *Channel) Pending() int {
	return c.queue.Len()
}
