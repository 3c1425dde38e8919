// ABOUTME: ConnectionSession state and per-session delivery plumbing
// ABOUTME: Connecting → Replaying → Active → Disconnected, with live traffic buffered during replay

package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/dedupe"
	"chatrelay/internal/metrics"
	"chatrelay/internal/store"
)

// State is a session's position in the recovery protocol.
type State int

const (
	StateConnecting State = iota
	StateReplaying
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReplaying:
		return "replaying"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Delivery is one message pushed to a connected client. System notices
// carry ID 0 and bypass replay and dedup.
type Delivery struct {
	ID      int64
	Content string
	System  bool
}

// dedupTTL bounds how long a session remembers delivered ids. Bus
// redelivery happens within seconds; an hour is comfortably past it.
const dedupTTL = time.Hour

// Session is the per-connection state owned by the gateway for the lifetime
// of one connection. ResumeOffset and Recovered are supplied once at
// creation by the transport collaborator and never mutated afterwards.
type Session struct {
	ID           string
	ResumeOffset int64
	Recovered    bool

	out  chan Delivery
	done chan struct{}

	mu      sync.Mutex
	state   State
	pending []Delivery // live deliveries buffered while replaying
	seen    *dedupe.Cache
	dropped bool

	closeOnce sync.Once
}

func newSession(resumeOffset int64, recovered bool, buffer int) *Session {
	return &Session{
		ID:           uuid.New().String(),
		ResumeOffset: resumeOffset,
		Recovered:    recovered,
		out:          make(chan Delivery, buffer),
		done:         make(chan struct{}),
		state:        StateConnecting,
		seen:         dedupe.New(dedupTTL, buffer*4),
	}
}

// Out is the session's delivery stream. It is never closed; consumers must
// select on Done to observe disconnection.
func (s *Session) Out() <-chan Delivery { return s.out }

// Done is closed when the session is detached.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dropped reports whether any delivery was lost. A session that dropped
// cannot be transparently resumed by the transport; the client must run the
// replay protocol instead.
func (s *Session) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// MarkDropped records a delivery that was taken from Out but never reached
// the client, such as a failed socket write. Disqualifies transport-level
// recovery the same way a full buffer does.
func (s *Session) MarkDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = true
}

// deliver handles a live broadcast. During replay the delivery is parked in
// the pending buffer so the client sees history strictly before live
// traffic; overlap between the two is absorbed by the id dedup cache.
func (s *Session) deliver(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDisconnected:
		return
	case StateConnecting, StateReplaying:
		if len(s.pending) >= cap(s.out) {
			s.dropped = true
			metrics.BroadcastDroppedTotal.Inc()
			return
		}
		s.pending = append(s.pending, d)
	case StateActive:
		s.enqueueLocked(d)
	}
}

// enqueueLocked pushes a delivery to the outbound channel. Non-blocking:
// a full buffer marks the session dropped rather than stalling the bus
// handler. Must be called with mu held.
func (s *Session) enqueueLocked(d Delivery) {
	if !d.System && s.seen.CheckAndMark(d.ID) {
		return // bus redelivery
	}
	select {
	case s.out <- d:
	default:
		s.dropped = true
		metrics.BroadcastDroppedTotal.Inc()
	}
}

// beginReplay moves the session into the Replaying state.
func (s *Session) beginReplay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateReplaying
	}
}

// replayDeliver pushes one historical message to the session, blocking
// until the consumer drains it so replay never drops history. Returns
// false once the session is disconnected. Only the replay loop writes to
// out while the state is Replaying, so the blocking send is race-free.
func (s *Session) replayDeliver(m *store.Message) bool {
	s.mu.Lock()
	if s.state != StateReplaying {
		s.mu.Unlock()
		return false
	}
	if s.seen.CheckAndMark(m.ID) {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	select {
	case s.out <- Delivery{ID: m.ID, Content: m.Content}:
		return true
	case <-s.done:
		return false
	}
}

// finishReplay flushes live deliveries buffered during replay and marks the
// session Active. Messages that arrived both from the store and the bus are
// collapsed by the dedup cache.
func (s *Session) finishReplay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	pending := s.pending
	s.pending = nil
	s.state = StateActive
	for _, d := range pending {
		s.enqueueLocked(d)
	}
}

// setActive transitions a transport-recovered session straight to Active.
// Broadcasts can land between registration and activation and are parked in
// pending; they flush here, same as at the end of a replay.
func (s *Session) setActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	pending := s.pending
	s.pending = nil
	s.state = StateActive
	for _, d := range pending {
		s.enqueueLocked(d)
	}
}

// detach terminates the session. Idempotent. Pending deliveries are
// discarded; an in-flight append issued by this connection is unaffected.
func (s *Session) detach() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateDisconnected
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
	})
}
