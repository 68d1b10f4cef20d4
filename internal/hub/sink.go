package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// sinkConn adapts an in-process frame handler to the Conn interface, so
// internal consumers (last-price cache, tick archive) subscribe to the
// broadcast stream through the same session machinery as wire clients,
// including the drop-on-full isolation.
type sinkConn struct {
	onFrame func(frame []byte) error
}

func (c *sinkConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}

	return c.onFrame(data)
}

func (c *sinkConn) SetWriteDeadline(time.Time) error { return nil }

func (c *sinkConn) Close() error { return nil }

// AttachSink registers an in-process consumer of the broadcast stream.
// A handler error terminates the sink's delivery task and deregisters
// it; handlers that want to survive transient failures log and return
// nil.
func AttachSink(h *Hub, name string, buffer int, onFrame func(frame []byte) error) (*Session, bool) {
	session := newSession(h, name, &sinkConn{onFrame: onFrame}, buffer)
	if !h.Register(session) {
		return nil, false
	}

	go session.writePump()

	return session, true
}
