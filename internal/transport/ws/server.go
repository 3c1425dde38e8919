// ABOUTME: WebSocket transport collaborator: upgrade, handshake, read/write loops
// ABOUTME: Supplies the gateway with each connection's resume offset and recovered flag

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/gateway"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame wraps every message on the socket in both directions.
type Frame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SendPayload is a client submission. ClientToken is the client-generated
// de-duplication token; retries reuse it.
type SendPayload struct {
	Content     string `json:"content"`
	ClientToken string `json:"clientToken"`
}

// MessageData is a delivered log message.
type MessageData struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// SystemData is a transient notice (join/leave).
type SystemData struct {
	Content string `json:"content"`
}

// HelloData opens every connection: the session id the client may present
// on its next reconnect, and whether transport-level recovery succeeded.
type HelloData struct {
	Session   string `json:"session"`
	Recovered bool   `json:"recovered"`
}

// AckData acknowledges an accepted (or absorbed-duplicate) submission.
type AckData struct {
	ID          int64  `json:"id,omitempty"`
	ClientToken string `json:"clientToken"`
}

// ErrorData reports a failed submission; the client retries with the same
// token.
type ErrorData struct {
	Code        string `json:"code"`
	ClientToken string `json:"clientToken,omitempty"`
}

// parked holds a session kept alive after its connection dropped, waiting
// for the client to come back within the grace window.
type parked struct {
	sess  *gateway.Session
	timer *time.Timer
}

// Server upgrades HTTP connections and bridges them to gateway sessions.
//
// Connection state recovery: when a connection drops, its session is parked
// for a grace window instead of being destroyed. Live deliveries keep
// accumulating in the session's buffer. A client reconnecting with the old
// session id inside the window resumes with recovered=true and no replay;
// if the window lapsed or the buffer overflowed, the session is gone and
// the client runs the normal offset replay.
type Server struct {
	gw     *gateway.Service
	logger *slog.Logger
	grace  time.Duration

	mu     sync.Mutex
	parked map[string]*parked
}

// New creates a WebSocket server. A zero grace disables transport-level
// recovery; every reconnect then goes through offset replay.
func New(gw *gateway.Service, grace time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		gw:     gw,
		logger: logger.With("component", "ws"),
		grace:  grace,
		parked: make(map[string]*parked),
	}
}

// ServeHTTP handles the upgrade, the handshake, and the connection's
// read/write loops. The handshake carries two query parameters:
// offset (last message id the client has seen) and session (the id from a
// previous hello, for transport recovery).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	if offset < 0 {
		offset = 0
	}
	prevSession := r.URL.Query().Get("session")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Submissions and announcements outlive the connection on purpose: a
	// disconnect must never cancel an append already in flight.
	ctx := context.WithoutCancel(r.Context())

	sess := s.resume(prevSession)
	recovered := sess != nil
	if sess == nil {
		sess = s.gw.Attach(ctx, offset, false)
	}
	s.logger.Info("client connected",
		"session", sess.ID,
		"offset", offset,
		"recovered", recovered)

	writeMu := &sync.Mutex{}
	writeFrame := func(action string, data any) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(Frame{Action: action, Data: raw})
	}

	if err := writeFrame("hello", HelloData{Session: sess.ID, Recovered: recovered}); err != nil {
		s.gw.Detach(sess)
		return
	}

	if !recovered {
		s.gw.Announce(ctx, "user connected")
	}

	// Write pump: drain the session's delivery stream onto the socket
	pumpStop := make(chan struct{})
	pumpExited := make(chan struct{})
	go func() {
		defer close(pumpExited)
		for {
			select {
			case d := <-sess.Out():
				var err error
				if d.System {
					err = writeFrame("system", SystemData{Content: d.Content})
				} else {
					err = writeFrame("message", MessageData{ID: d.ID, Content: d.Content})
				}
				if err != nil {
					// The delivery left the session buffer but never
					// reached the client; recovery must not pretend
					// otherwise.
					sess.MarkDropped()
					conn.Close()
					return
				}
			case <-sess.Done():
				conn.Close()
				return
			case <-pumpStop:
				return
			}
		}
	}()

	// Read loop: sequential, so one client's submissions are processed in
	// submission order
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("discarding malformed frame", "session", sess.ID, "error", err)
			continue
		}

		switch f.Action {
		case "send":
			var p SendPayload
			if err := json.Unmarshal(f.Data, &p); err != nil || p.ClientToken == "" {
				writeFrame("error", ErrorData{Code: "BAD_REQUEST", ClientToken: p.ClientToken})
				continue
			}
			id, err := s.gw.Submit(ctx, p.Content, p.ClientToken)
			if err != nil {
				s.logger.Warn("submit failed", "session", sess.ID, "token", p.ClientToken, "error", err)
				writeFrame("error", ErrorData{
					Code:        strings.ToUpper(gateway.Classify(err).String()),
					ClientToken: p.ClientToken,
				})
				continue
			}
			writeFrame("ack", AckData{ID: id, ClientToken: p.ClientToken})
		default:
			s.logger.Debug("unknown action", "session", sess.ID, "action", f.Action)
		}
	}

	// The pump must be fully stopped before the session can be parked,
	// otherwise it could still consume a delivery the dead socket will
	// never carry.
	close(pumpStop)
	<-pumpExited

	s.logger.Info("client disconnected", "session", sess.ID)
	if s.grace > 0 && !sess.Dropped() && sess.State() != gateway.StateDisconnected {
		s.park(sess)
		return
	}
	s.gw.Detach(sess)
	s.gw.Announce(ctx, "user disconnected")
}

// resume reclaims a parked session by id. Returns nil when the session is
// unknown, expired, or lost deliveries while parked — those cases have to
// go through the replay protocol.
func (s *Server) resume(id string) *gateway.Session {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	p, ok := s.parked[id]
	if ok {
		delete(s.parked, id)
		p.timer.Stop()
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if p.sess.Dropped() || p.sess.State() != gateway.StateActive {
		s.gw.Detach(p.sess)
		return nil
	}
	return p.sess
}

// park keeps a session alive for the grace window after a disconnect.
func (s *Server) park(sess *gateway.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &parked{sess: sess}
	p.timer = time.AfterFunc(s.grace, func() { s.expire(sess.ID) })
	s.parked[sess.ID] = p
	s.logger.Debug("session parked", "session", sess.ID, "grace", s.grace)
}

// expire destroys a parked session whose client never came back.
func (s *Server) expire(id string) {
	s.mu.Lock()
	p, ok := s.parked[id]
	delete(s.parked, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.gw.Detach(p.sess)
	s.gw.Announce(context.Background(), "user disconnected")
	s.logger.Debug("parked session expired", "session", id)
}

// Close detaches all parked sessions.
func (s *Server) Close() {
	s.mu.Lock()
	old := s.parked
	s.parked = make(map[string]*parked)
	s.mu.Unlock()

	for _, p := range old {
		p.timer.Stop()
		s.gw.Detach(p.sess)
	}
}
