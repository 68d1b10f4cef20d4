package source

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/pricefeed-service/internal/config"
	"github.com/krobus00/pricefeed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const binancePingInterval = 2 * time.Minute

// BinanceSource maintains one always-on combined-stream connection
// covering all subscribed symbols and translates trade frames into
// normalized price updates, one message per frame.
type BinanceSource struct {
	streamURL   string
	symbols     entity.SymbolMap
	broadcaster Broadcaster
}

func NewBinanceSource(feedConfig config.FeedConfig, broadcaster Broadcaster) (*BinanceSource, error) {
	if len(feedConfig.Symbols) == 0 {
		return nil, fmt.Errorf("binance feed has no symbols configured")
	}

	baseURL := strings.TrimSpace(feedConfig.URL)
	if baseURL == "" {
		baseURL = "wss://stream.binance.com:9443"
	}

	streams := make([]string, 0, len(feedConfig.Symbols))
	for streamSymbol := range feedConfig.Symbols {
		streams = append(streams, strings.ToLower(streamSymbol)+"@trade")
	}
	sort.Strings(streams)

	streamURL := strings.TrimRight(baseURL, "/") + "/stream?streams=" + strings.Join(streams, "/")
	if _, err := url.Parse(streamURL); err != nil {
		return nil, fmt.Errorf("invalid binance stream url: %w", err)
	}

	symbols := make(entity.SymbolMap, len(feedConfig.Symbols))
	for streamSymbol, pair := range feedConfig.Symbols {
		symbols[strings.ToLower(strings.TrimSpace(streamSymbol))] = pair
	}

	return &BinanceSource{
		streamURL:   streamURL,
		symbols:     symbols,
		broadcaster: broadcaster,
	}, nil
}

func (s *BinanceSource) Name() entity.SourceName {
	return entity.SourceBinance
}

// Run dials the combined stream and reads frames until ctx is cancelled.
// Transport failures reconnect with the same subscription set; payload
// failures skip the frame.
func (s *BinanceSource) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		logrus.Infof("connecting to %s", s.streamURL)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			wait := reconnectDelay(attempt, rng)
			attempt++
			logrus.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warnf("binance ws dial failed: %v", err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		attempt = 0
		conn.SetPongHandler(func(string) error {
			return nil
		})

		stopPing := make(chan struct{})
		go func(c *websocket.Conn) {
			ticker := time.NewTicker(binancePingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
						logrus.Error(err)
						return
					}
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				}
			}
		}(conn)

		ctxDone := make(chan struct{})
		go func(c *websocket.Conn) {
			select {
			case <-ctx.Done():
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = c.Close()
			case <-ctxDone:
			}
		}(conn)

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					close(stopPing)
					close(ctxDone)
					return nil
				}

				logrus.Errorf("binance ws read failed: %v", err)
				break
			}

			if err := s.handleFrame(message); err != nil {
				logrus.Errorf("binance ws handle frame failed: %v", err)
				continue
			}
		}

		close(stopPing)
		close(ctxDone)
		_ = conn.Close()

		wait := reconnectDelay(attempt, rng)
		attempt++
		logrus.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warn("reconnecting binance ws")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *BinanceSource) handleFrame(message []byte) error {
	var payload struct {
		Stream string `json:"stream"`
		Data   struct {
			Event        string `json:"e"`
			EventTime    int64  `json:"E"`
			Symbol       string `json:"s"`
			Price        string `json:"p"`
			Quantity     string `json:"q"`
			TradeTime    int64  `json:"T"`
			IsBuyerMaker bool   `json:"m"`
		} `json:"data"`
	}

	if err := json.Unmarshal(message, &payload); err != nil {
		return fmt.Errorf("decode trade frame: %w", err)
	}

	if payload.Data.Event != "trade" || payload.Data.Price == "" {
		return nil
	}

	pair, ok := s.symbols[strings.ToLower(strings.TrimSpace(payload.Data.Symbol))]
	if !ok {
		return nil
	}

	update, err := entity.NewPriceUpdate(pair, payload.Data.Price, payload.Data.TradeTime, payload.Data.Quantity, payload.Data.IsBuyerMaker)
	if err != nil {
		return err
	}

	frame, err := update.Encode()
	if err != nil {
		return err
	}

	s.broadcaster.Publish(frame)

	return nil
}
