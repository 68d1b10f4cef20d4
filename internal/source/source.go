package source

import (
	"math"
	"math/rand"
	"time"
)

const (
	wsReconnectMinDelay = 1 * time.Second
	wsReconnectMaxDelay = 15 * time.Second
	wsReconnectFactor   = 2.0
)

// Broadcaster is the hub's inbound submission operation. Publish never
// blocks; it reports false when the frame was dropped.
type Broadcaster interface {
	Publish(frame []byte) bool
}

func reconnectDelay(attempt int, rng *rand.Rand) time.Duration {
	backoff := float64(wsReconnectMinDelay) * math.Pow(wsReconnectFactor, float64(attempt))
	if backoff > float64(wsReconnectMaxDelay) {
		backoff = float64(wsReconnectMaxDelay)
	}

	base := time.Duration(backoff)
	if wsReconnectMaxDelay <= wsReconnectMinDelay {
		return base
	}

	jitterWindow := wsReconnectMaxDelay - wsReconnectMinDelay
	jitter := time.Duration(rng.Int63n(int64(jitterWindow) + 1))
	result := base + jitter
	if result > wsReconnectMaxDelay {
		return wsReconnectMaxDelay
	}

	return result
}
