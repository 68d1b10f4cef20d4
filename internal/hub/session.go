package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

const (
	stateRegistered int32 = iota
	stateActive
	stateDeregistering
	stateClosed
)

// Conn is the subset of *websocket.Conn the delivery task needs. Sink
// sessions satisfy it with an in-process implementation.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session wraps one outbound connection: a bounded FIFO of serialized
// messages plus the delivery task that drains it onto the wire. The hub
// owns the session for its registered lifetime; the connection handle is
// released exactly once, by the hub, at deregistration.
type Session struct {
	id   string
	name string
	conn Conn
	send chan []byte
	hub  *Hub

	state     atomic.Int32
	closeOnce sync.Once

	// touched only inside the hub control loop
	drops       uint64
	lastDropLog time.Time
}

func newSession(h *Hub, name string, conn Conn, buffer int) *Session {
	if buffer <= 0 {
		buffer = h.clientBuffer
	}

	return &Session{
		id:   uuid.NewString(),
		name: name,
		conn: conn,
		send: make(chan []byte, buffer),
		hub:  h,
	}
}

// Attach creates a session for an upgraded client connection, registers
// it with the hub and starts both pumps. It reports false when the hub
// is no longer accepting sessions.
func Attach(h *Hub, conn *websocket.Conn) (*Session, bool) {
	session := newSession(h, "ws", conn, 0)
	if !h.Register(session) {
		return nil, false
	}

	go session.writePump()
	go session.readPump(conn)

	return session, true
}

func (s *Session) ID() string {
	return s.id
}

// enqueue is called only from the hub control loop, for sessions still
// in the registry. That ordering makes the non-blocking send safe
// against the queue being closed.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// writePump drains the outbound queue onto the wire, in order, one
// message at a time, and probes liveness on an idle connection. It exits
// when the hub closes the queue or the transport fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return
			}

			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.fail("write", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.fail("ping", err)
				return
			}
		}
	}
}

// readPump consumes control frames so close and pong handling work, and
// reports a remote close as a deregistration trigger. Data frames from
// clients are ignored; the stream is one-way.
func (s *Session) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.fail("read", err)
			return
		}
	}
}

// fail is how the hub learns about transport-level failures it cannot
// observe directly. Already-deregistering sessions stay quiet.
func (s *Session) fail(op string, err error) {
	if s.state.Load() >= stateDeregistering {
		return
	}

	logrus.WithFields(logrus.Fields{
		"session": s.id,
		"name":    s.name,
		"op":      op,
	}).Warnf("session transport failed: %v", err)

	s.hub.Deregister(s)
}

func (s *Session) releaseConn() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
