// ABOUTME: GatewayService orchestration: submit, cross-process fan-out, reconnect replay
// ABOUTME: The store is the source of truth; the bus only announces what was appended

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/bus"
	"chatrelay/internal/metrics"
	"chatrelay/internal/store"
)

// sessionBufferSize is the outbound channel buffer for each session.
const sessionBufferSize = 64

// errSessionGone aborts a replay whose session disconnected mid-stream.
var errSessionGone = errors.New("session disconnected")

// MessageStore defines what the gateway needs from the durable log.
type MessageStore interface {
	Append(ctx context.Context, content, clientToken string) (*store.Message, error)
	ReadAfter(ctx context.Context, offset int64, fn func(*store.Message) error) error
	LastID(ctx context.Context) (int64, error)
}

// Service accepts client submissions, records them exactly once, announces
// them to every worker through the bus, and delivers live plus replayed
// messages to the sessions attached to this worker.
type Service struct {
	store  MessageStore
	bus    bus.Bus
	logger *slog.Logger
	origin string // this worker's identity on the bus

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a gateway service. Pass nil logger for default.
func New(st MessageStore, b bus.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		bus:      b,
		logger:   logger.With("component", "gateway"),
		origin:   uuid.New().String(),
		sessions: make(map[string]*Session),
	}
}

// Origin returns this worker's bus identity.
func (s *Service) Origin() string { return s.origin }

// Start subscribes the gateway to the broadcast bus. Must be called once
// before sessions attach; the subscription ends when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.bus.Subscribe(ctx, s.handleEnvelope)
	s.logger.Info("gateway subscribed to broadcast bus", "origin", s.origin)
}

// Submit records a message and announces it to all workers.
//
// A duplicate client token is an idempotent success: no new row, no second
// broadcast, nil error, id 0. A store failure is surfaced — the message is
// NOT recorded and the client is expected to retry with the same token. A
// bus failure after a successful append is logged but not surfaced; the
// append is the source of truth and affected clients repair via replay.
func (s *Service) Submit(ctx context.Context, content, clientToken string) (int64, error) {
	start := time.Now()

	msg, err := s.store.Append(ctx, content, clientToken)
	if errors.Is(err, store.ErrDuplicateToken) {
		metrics.DuplicateSubmissionsTotal.Inc()
		s.logger.Debug("duplicate submission absorbed",
			"token", clientToken,
			"kind", Classify(err).String())
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("recording message: %w", err)
	}
	metrics.MessagesTotal.Inc()

	env := &bus.Envelope{ID: msg.ID, Content: msg.Content, Kind: bus.KindMessage, Origin: s.origin}
	if perr := s.bus.Publish(ctx, env); perr != nil {
		werr := fmt.Errorf("%w: %v", ErrBusUnavailable, perr)
		s.logger.Warn("fan-out degraded; other workers catch up via reconnect replay",
			"id", msg.ID,
			"kind", Classify(werr).String(),
			"error", perr)
	}

	metrics.SubmitLatency.Observe(float64(time.Since(start).Milliseconds()))
	return msg.ID, nil
}

// Announce publishes a transient system notice (join/leave). Notices are
// never persisted and are delivered live only.
func (s *Service) Announce(ctx context.Context, text string) {
	env := &bus.Envelope{Content: text, Kind: bus.KindSystem, Origin: s.origin}
	if err := s.bus.Publish(ctx, env); err != nil {
		s.logger.Debug("system notice dropped", "error", err)
	}
}

// handleEnvelope fans one bus delivery out to every local session.
func (s *Service) handleEnvelope(env *bus.Envelope) {
	d := Delivery{ID: env.ID, Content: env.Content, System: env.Kind == bus.KindSystem}

	s.mu.RLock()
	targets := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		sess.deliver(d)
	}
}

// Attach registers a new connection and runs the recovery protocol.
//
// The session is registered before replay starts, so live broadcasts
// arriving mid-replay are buffered rather than missed: replay covers
// everything committed up to its snapshot, buffered live traffic covers
// everything after, and the id dedup cache collapses the overlap. That is
// the gap-free guarantee.
//
// When recovered is true the transport already restored in-flight state and
// the session goes straight to Active. Otherwise replay runs in the
// background so the caller can start draining Out() right away; replay
// sends block on a full buffer and would deadlock a synchronous caller.
// A store error mid-replay abandons the remaining history and keeps the
// connection up — losing some replay is preferable to dropping a live
// connection.
func (s *Service) Attach(ctx context.Context, resumeOffset int64, recovered bool) *Session {
	sess := newSession(resumeOffset, recovered, sessionBufferSize)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	if recovered {
		sess.setActive()
		s.logger.Debug("session attached recovered", "session", sess.ID, "offset", resumeOffset)
		return sess
	}

	sess.beginReplay()
	go s.runReplay(ctx, sess, resumeOffset)

	s.logger.Debug("session attached", "session", sess.ID, "offset", resumeOffset)
	return sess
}

func (s *Service) runReplay(ctx context.Context, sess *Session, resumeOffset int64) {
	err := s.store.ReadAfter(ctx, resumeOffset, func(m *store.Message) error {
		if !sess.replayDeliver(m) {
			return errSessionGone
		}
		metrics.ReplayedMessagesTotal.Inc()
		return nil
	})
	if err != nil && !errors.Is(err, errSessionGone) {
		werr := fmt.Errorf("%w: %v", ErrReplayInterrupted, err)
		s.logger.Warn("abandoning remaining replay, keeping connection",
			"session", sess.ID,
			"offset", resumeOffset,
			"kind", Classify(werr).String(),
			"error", err)
	}
	sess.finishReplay()
}

// Detach destroys a session. Idempotent; pending deliveries are dropped and
// no further delivery is attempted.
func (s *Service) Detach(sess *Session) {
	s.mu.Lock()
	_, ok := s.sessions[sess.ID]
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	if ok {
		metrics.ActiveSessions.Dec()
	}
	sess.detach()
	s.logger.Debug("session detached", "session", sess.ID)
}

// LastID exposes the log's high-water mark for transport handshakes.
func (s *Service) LastID(ctx context.Context) (int64, error) {
	return s.store.LastID(ctx)
}
