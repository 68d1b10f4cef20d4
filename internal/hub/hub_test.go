package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	failWrite atomic.Bool
	closes    atomic.Int32
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.failWrite.Load() {
		return errors.New("broken pipe")
	}

	if messageType != websocket.TextMessage {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func startHub(t *testing.T) (*Hub, context.CancelFunc, <-chan struct{}) {
	t.Helper()

	h := New(64, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return h, cancel, done
}

func waitForSessions(t *testing.T, h *Hub, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Sessions() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubRegistryRandomizedInterleavings(t *testing.T) {
	h, _, _ := startHub(t)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	const total = 40

	sessions := make([]*Session, 0, total)
	expected := make(map[*Session]bool, total)

	for i := 0; i < total; i++ {
		s := newSession(h, fmt.Sprintf("client-%d", i), &fakeConn{}, 0)
		sessions = append(sessions, s)
		require.True(t, h.Register(s))
		expected[s] = true

		// randomly deregister an earlier session, sometimes twice
		if rng.Intn(3) == 0 {
			victim := sessions[rng.Intn(len(sessions))]
			h.Deregister(victim)
			expected[victim] = false
			if rng.Intn(2) == 0 {
				h.Deregister(victim)
			}
		}

		if rng.Intn(8) == 0 {
			h.Publish([]byte(`{"symbol":"BTCUSDT"}`))
		}
	}

	want := int64(0)
	for _, member := range expected {
		if member {
			want++
		}
	}
	waitForSessions(t, h, want)

	// let the hub finish broadcasting the frames published above
	require.Eventually(t, func() bool {
		return len(h.inbound) == 0
	}, 2*time.Second, 5*time.Millisecond)

	// make room for the probe on every surviving queue
	for s, member := range expected {
		if member {
			drained(s, nil)
		}
	}

	// membership check: a broadcast reaches exactly the registered set
	probe := []byte("probe")
	require.True(t, h.Publish(probe))

	for _, s := range sessions {
		s := s
		if expected[s] {
			require.Eventually(t, func() bool {
				return drained(s, probe)
			}, 2*time.Second, 5*time.Millisecond, "registered session should receive the probe")
		} else {
			assertSendClosed(t, s)
		}
	}
}

// drained empties queued frames without blocking and reports whether
// the probe frame was among them. A nil probe just drains.
func drained(s *Session, probe []byte) bool {
	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return false
			}
			if probe != nil && string(frame) == string(probe) {
				return true
			}
		default:
			return false
		}
	}
}

func assertSendClosed(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.send:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "deregistered session queue should be closed")
}

func TestHubBroadcastFIFOPerClient(t *testing.T) {
	h, _, _ := startHub(t)

	conn := &fakeConn{}
	s := newSession(h, "client", conn, 0)
	require.True(t, h.Register(s))
	waitForSessions(t, h, 1)

	go s.writePump()

	const count = 5
	for i := 0; i < count; i++ {
		require.True(t, h.Publish([]byte(fmt.Sprintf("frame-%d", i))))
	}

	require.Eventually(t, func() bool {
		return len(conn.written()) == count
	}, 2*time.Second, 5*time.Millisecond)

	frames := conn.written()
	for i := 0; i < count; i++ {
		assert.Equal(t, fmt.Sprintf("frame-%d", i), string(frames[i]))
	}
}

func TestHubSlowClientIsolation(t *testing.T) {
	h, _, _ := startHub(t)

	fast1 := newSession(h, "fast-1", &fakeConn{}, 2)
	fast2 := newSession(h, "fast-2", &fakeConn{}, 2)
	slow := newSession(h, "slow", &fakeConn{}, 2)

	for _, s := range []*Session{fast1, fast2, slow} {
		require.True(t, h.Register(s))
	}
	waitForSessions(t, h, 3)

	// saturate the slow client's queue before the broadcast
	require.True(t, slow.enqueue([]byte("old-1")))
	require.True(t, slow.enqueue([]byte("old-2")))
	require.False(t, slow.enqueue([]byte("overflow")))

	offending := []byte("latest")
	require.True(t, h.Publish(offending))

	for _, s := range []*Session{fast1, fast2} {
		s := s
		require.Eventually(t, func() bool {
			select {
			case frame := <-s.send:
				return string(frame) == string(offending)
			default:
				return false
			}
		}, 2*time.Second, 5*time.Millisecond)
	}

	// the slow client missed exactly the offending message and stays registered
	assert.Equal(t, "old-1", string(<-slow.send))
	assert.Equal(t, "old-2", string(<-slow.send))
	select {
	case frame := <-slow.send:
		t.Fatalf("slow client should not have received %q", frame)
	default:
	}
	assert.Equal(t, int64(3), h.Sessions())
}

func TestHubWriteFailureDeregistersOnce(t *testing.T) {
	h, _, _ := startHub(t)

	conn := &fakeConn{}
	conn.failWrite.Store(true)

	s := newSession(h, "client", conn, 0)
	require.True(t, h.Register(s))
	waitForSessions(t, h, 1)

	go s.writePump()

	require.True(t, h.Publish([]byte("frame")))

	waitForSessions(t, h, 0)
	require.Eventually(t, func() bool {
		return s.state.Load() == stateClosed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), conn.closes.Load())

	// repeated failure reports must not release the handle again
	h.Deregister(s)
	h.Publish([]byte("another"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestHubPublishDropsWhenSaturated(t *testing.T) {
	// no control loop running: the inbound queue fills and Publish must
	// not block
	h := New(2, 8)

	assert.True(t, h.Publish([]byte("a")))
	assert.True(t, h.Publish([]byte("b")))
	assert.False(t, h.Publish([]byte("c")))
}

func TestHubShutdownClosesAllSessions(t *testing.T) {
	h, cancel, done := startHub(t)

	conns := make([]*fakeConn, 3)
	for i := range conns {
		conns[i] = &fakeConn{}
		s := newSession(h, fmt.Sprintf("client-%d", i), conns[i], 0)
		require.True(t, h.Register(s))
	}
	waitForSessions(t, h, 3)

	// frames still buffered at shutdown are drained, not leaked
	require.True(t, h.Publish([]byte("undelivered-1")))
	require.True(t, h.Publish([]byte("undelivered-2")))

	cancel()
	<-done

	assert.Equal(t, int64(0), h.Sessions())
	assert.Empty(t, h.inbound)
	for _, conn := range conns {
		assert.Equal(t, int32(1), conn.closes.Load())
	}

	// a stopped hub rejects new sessions
	late := newSession(h, "late", &fakeConn{}, 0)
	assert.False(t, h.Register(late))
}
