package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/pricefeed-service/internal/config"
	"github.com/krobus00/pricefeed-service/internal/entity"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *captureBroadcaster) Publish(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, append([]byte(nil), frame...))
	return true
}

func (b *captureBroadcaster) updates(t *testing.T) []entity.PriceUpdate {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]entity.PriceUpdate, 0, len(b.frames))
	for _, frame := range b.frames {
		update, err := entity.DecodePriceUpdate(frame)
		require.NoError(t, err)
		out = append(out, update)
	}
	return out
}

func newCoinGeckoFixture(t *testing.T, responses []string, statusCodes []int) (*CoinGeckoSource, *captureBroadcaster, *httptest.Server) {
	t.Helper()

	var call int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))

		idx := call
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		call++

		if statusCodes != nil {
			w.WriteHeader(statusCodes[idx])
		}
		_, _ = w.Write([]byte(responses[idx]))
	}))
	t.Cleanup(server.Close)

	broadcaster := &captureBroadcaster{}
	src, err := NewCoinGeckoSource(config.FeedConfig{
		URL:          server.URL,
		PollInterval: time.Hour,
		VsCurrency:   "usd",
		Symbols:      map[string]string{"bitcoin": "BTCUSDT"},
	}, broadcaster)
	require.NoError(t, err)

	src.now = func() time.Time { return time.UnixMilli(1700000000000) }

	return src, broadcaster, server
}

func TestCoinGeckoChangeDetection(t *testing.T) {
	src, broadcaster, _ := newCoinGeckoFixture(t, []string{
		`{"bitcoin":{"usd":50000.00}}`,
		`{"bitcoin":{"usd":50000.00}}`,
		`{"bitcoin":{"usd":50125.50}}`,
	}, nil)

	hook := logrustest.NewGlobal()
	defer hook.Reset()

	ctx := context.Background()

	// first observation seeds and emits
	require.NoError(t, src.poll(ctx))
	updates := broadcaster.updates(t)
	require.Len(t, updates, 1)
	assert.Equal(t, entity.PriceUpdate{
		Symbol:       "BTCUSDT",
		Price:        "50000.00",
		Time:         1700000000000,
		Quantity:     "0",
		IsBuyerMaker: false,
	}, updates[0])
	assert.True(t, hasLogMessage(hook, "initial price observed"))

	// unchanged value emits nothing
	require.NoError(t, src.poll(ctx))
	require.Len(t, broadcaster.updates(t), 1)

	// changed value emits again, logged as a change rather than a seed
	hook.Reset()
	require.NoError(t, src.poll(ctx))
	updates = broadcaster.updates(t)
	require.Len(t, updates, 2)
	assert.Equal(t, "50125.50", updates[1].Price)
	assert.True(t, hasLogMessage(hook, "price changed"))
	assert.False(t, hasLogMessage(hook, "initial price observed"))
}

func hasLogMessage(hook *logrustest.Hook, message string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == message {
			return true
		}
	}
	return false
}

func TestCoinGeckoSkipsFailedCycle(t *testing.T) {
	t.Run("non-success status", func(t *testing.T) {
		src, broadcaster, _ := newCoinGeckoFixture(t,
			[]string{`rate limited`},
			[]int{http.StatusTooManyRequests},
		)

		err := src.poll(context.Background())
		assert.Error(t, err)
		assert.Empty(t, broadcaster.updates(t))
	})

	t.Run("malformed body", func(t *testing.T) {
		src, broadcaster, _ := newCoinGeckoFixture(t, []string{`{"bitcoin":`}, nil)

		err := src.poll(context.Background())
		assert.Error(t, err)
		assert.Empty(t, broadcaster.updates(t))
	})

	t.Run("shape mismatch", func(t *testing.T) {
		src, broadcaster, _ := newCoinGeckoFixture(t, []string{`{"bitcoin":{"usd":"fifty thousand"}}`}, nil)

		err := src.poll(context.Background())
		assert.Error(t, err)
		assert.Empty(t, broadcaster.updates(t))
	})

	t.Run("missing asset skipped without error", func(t *testing.T) {
		src, broadcaster, _ := newCoinGeckoFixture(t, []string{`{"ethereum":{"usd":3000.00}}`}, nil)

		err := src.poll(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, broadcaster.updates(t))
	})
}

func TestCoinGeckoRecoversOnNextCycle(t *testing.T) {
	src, broadcaster, _ := newCoinGeckoFixture(t, []string{
		`not json at all`,
		`{"bitcoin":{"usd":50000.00}}`,
	}, nil)

	ctx := context.Background()
	require.Error(t, src.poll(ctx))
	require.NoError(t, src.poll(ctx))

	updates := broadcaster.updates(t)
	require.Len(t, updates, 1)
	assert.Equal(t, "50000.00", updates[0].Price)
}

func TestCoinGeckoBatchedRequestURL(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	src, err := NewCoinGeckoSource(config.FeedConfig{
		Symbols: map[string]string{
			"ethereum": "ETHUSDT",
			"bitcoin":  "BTCUSDT",
			"solana":   "SOLUSDT",
		},
	}, broadcaster)
	require.NoError(t, err)

	// ids are sorted so every cycle issues the same batched request
	assert.Equal(t, []string{"bitcoin", "ethereum", "solana"}, src.assetIDs)
	assert.Equal(t, "https://api.coingecko.com", src.baseURL)
}

func TestCoinGeckoWireShapeMatchesStreamingSource(t *testing.T) {
	src, broadcaster, _ := newCoinGeckoFixture(t, []string{`{"bitcoin":{"usd":50000.00}}`}, nil)
	require.NoError(t, src.poll(context.Background()))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(broadcaster.frames[0], &raw))
	assert.ElementsMatch(t, []string{"symbol", "price", "time", "quantity", "isBuyerMaker"}, keys(raw))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
