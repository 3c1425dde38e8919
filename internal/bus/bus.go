// ABOUTME: BroadcastBus interface and envelope type for cross-process fan-out
// ABOUTME: A pure notification channel between workers, never a replay source

package bus

import "context"

// Envelope kinds. Messages carry a durable log id; system notices are
// transient (id 0) and are never persisted or replayed.
const (
	KindMessage = "message"
	KindSystem  = "system"
)

// Envelope is the payload announced for every accepted message.
type Envelope struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
	Origin  string `json:"origin,omitempty"` // publishing worker identity
}

// Handler receives delivered envelopes. Delivery is at-least-once; envelopes
// published by one origin arrive in that origin's emission order, with no
// ordering guarantee across origins.
type Handler func(*Envelope)

// Bus announces accepted messages to every subscribed worker process.
// Self-delivery is required: the publisher's own subscribers receive the
// envelope too, so local fan-out needs no separate path. The bus carries
// notifications only; workers that miss an announcement catch up through
// their clients' own reconnect-and-replay cycle, never through bus retry.
type Bus interface {
	// Publish announces an envelope to all subscribers. A failure is
	// reported to the caller but never rolls back the durable append that
	// preceded it.
	Publish(ctx context.Context, env *Envelope) error

	// Subscribe registers a handler invoked once per delivered envelope.
	// The subscription ends when ctx is cancelled.
	Subscribe(ctx context.Context, h Handler)

	// Close shuts down the bus and releases its resources.
	Close() error
}
