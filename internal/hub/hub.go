package hub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/krobus00/pricefeed-service/internal/constant"
	"github.com/sirupsen/logrus"
)

const dropLogInterval = 5 * time.Second

// Hub owns the client registry. Registration, deregistration and
// broadcast all flow through one control loop, so the registry is never
// read or written concurrently and needs no lock. Everything downstream
// of the inbound queue is best effort: a saturated queue means a dropped
// message, never a stalled producer.
type Hub struct {
	register   chan *Session
	deregister chan *Session
	inbound    chan []byte

	sessions     map[*Session]struct{}
	clientBuffer int

	done         chan struct{}
	sessionCount atomic.Int64

	lastInboundDropLog atomic.Int64
}

func New(inboundBuffer, clientBuffer int) *Hub {
	if inboundBuffer <= 0 {
		inboundBuffer = constant.DefaultInboundBuffer
	}
	if clientBuffer <= 0 {
		clientBuffer = constant.DefaultClientBuffer
	}

	return &Hub{
		register:     make(chan *Session),
		deregister:   make(chan *Session),
		inbound:      make(chan []byte, inboundBuffer),
		sessions:     make(map[*Session]struct{}),
		clientBuffer: clientBuffer,
		done:         make(chan struct{}),
	}
}

// Run is the control loop. It processes exactly one event at a time and
// returns once ctx is cancelled, deregistering every remaining session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case session := <-h.register:
			h.handleRegister(session)
		case session := <-h.deregister:
			h.handleDeregister(session)
		case frame := <-h.inbound:
			h.handleBroadcast(frame)
		case <-ctx.Done():
			for session := range h.sessions {
				h.handleDeregister(session)
			}
			h.drainInbound()
			logrus.Info("hub control loop stopped")
			return
		}
	}
}

// Publish submits a serialized price update to the inbound broadcast
// queue without blocking. A saturated queue drops the frame; ingestion
// must never stall on downstream congestion.
func (h *Hub) Publish(frame []byte) bool {
	select {
	case h.inbound <- frame:
		return true
	default:
		droppedFramesTotal.WithLabelValues("inbound").Inc()
		h.logInboundDrop()
		return false
	}
}

// Register submits a registration intent. It reports false when the hub
// has already stopped, which callers treat as inability to allocate a
// new session.
func (h *Hub) Register(session *Session) bool {
	select {
	case h.register <- session:
		return true
	case <-h.done:
		return false
	}
}

// Deregister submits a deregistration intent. Safe to call multiple
// times for the same session.
func (h *Hub) Deregister(session *Session) {
	select {
	case h.deregister <- session:
	case <-h.done:
	}
}

// Sessions reports the current registry size.
func (h *Hub) Sessions() int64 {
	return h.sessionCount.Load()
}

func (h *Hub) handleRegister(session *Session) {
	h.sessions[session] = struct{}{}
	session.state.Store(stateActive)
	h.sessionCount.Store(int64(len(h.sessions)))
	activeSessions.Set(float64(len(h.sessions)))

	logrus.WithFields(logrus.Fields{
		"session": session.id,
		"name":    session.name,
		"total":   len(h.sessions),
	}).Info("session registered")
}

func (h *Hub) handleDeregister(session *Session) {
	if _, ok := h.sessions[session]; !ok {
		return
	}

	delete(h.sessions, session)
	session.state.Store(stateDeregistering)
	close(session.send)
	session.releaseConn()
	session.state.Store(stateClosed)
	h.sessionCount.Store(int64(len(h.sessions)))
	activeSessions.Set(float64(len(h.sessions)))

	logrus.WithFields(logrus.Fields{
		"session": session.id,
		"name":    session.name,
		"dropped": session.drops,
		"total":   len(h.sessions),
	}).Info("session deregistered")
}

func (h *Hub) handleBroadcast(frame []byte) {
	broadcastsTotal.Inc()

	for session := range h.sessions {
		if session.enqueue(frame) {
			continue
		}

		// Slow client: it loses this message, nobody else does. Eviction
		// stays with the delivery task, which sees the actual transport.
		droppedFramesTotal.WithLabelValues("client").Inc()
		session.drops++
		if time.Since(session.lastDropLog) >= dropLogInterval {
			session.lastDropLog = time.Now()
			logrus.WithFields(logrus.Fields{
				"session": session.id,
				"name":    session.name,
				"dropped": session.drops,
			}).Warn("client outbound queue full, dropping message")
		}
	}
}

// drainInbound empties frames still buffered at teardown. Every session
// is already deregistered, so they have nowhere to go.
func (h *Hub) drainInbound() {
	for {
		select {
		case <-h.inbound:
		default:
			return
		}
	}
}

func (h *Hub) logInboundDrop() {
	now := time.Now().UnixNano()
	last := h.lastInboundDropLog.Load()
	if now-last < int64(dropLogInterval) {
		return
	}

	if h.lastInboundDropLog.CompareAndSwap(last, now) {
		logrus.Warn("inbound broadcast queue full, dropping message")
	}
}
