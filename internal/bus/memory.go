// ABOUTME: In-memory Bus implementation for single-process deployments and tests
// ABOUTME: Fan-out through per-subscriber buffered channels with non-blocking sends

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Memory is an in-process Bus. All subscribers — including the publisher's
// own — receive every envelope, which satisfies the self-delivery contract
// when a deployment runs a single worker.
type Memory struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Envelope
	logger      *slog.Logger
	closed      bool
}

// NewMemory creates an in-memory bus. Pass nil logger for default.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subscribers: make(map[string]chan *Envelope),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a handler. Each subscriber drains its own buffered
// channel on a dedicated goroutine, so one origin's envelopes reach the
// handler in publish order. The subscription is cleaned up when ctx is
// cancelled.
func (b *Memory) Subscribe(ctx context.Context, h Handler) {
	subID := uuid.New().String()
	ch := make(chan *Envelope, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		for env := range ch {
			h(env)
		}
	}()

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()
}

// Publish delivers the envelope to every subscriber's channel.
// Non-blocking: envelopes are dropped for subscribers whose channels are
// full rather than stalling the publisher.
func (b *Memory) Publish(_ context.Context, env *Envelope) error {
	// Sends happen under the read lock so a concurrent unsubscribe cannot
	// close a channel mid-send. They never block, so holding it is cheap.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- env:
			// Sent
		default:
			b.logger.Debug("dropped envelope for slow subscriber", "id", env.ID)
		}
	}
	return nil
}

// unsubscribe removes a subscription and closes its channel.
func (b *Memory) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("bus closed")
	return nil
}

// Ensure Memory implements Bus
var _ Bus = (*Memory)(nil)
