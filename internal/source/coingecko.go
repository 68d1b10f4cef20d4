package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/pricefeed-service/internal/config"
	"github.com/krobus00/pricefeed-service/internal/constant"
	"github.com/krobus00/pricefeed-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CoinGeckoSource polls the aggregator on a fixed interval with one
// batched request covering all tracked assets. It emits an update only
// when the observed price differs from the last-known value; the first
// observation of a symbol always emits, as a seed value. The poll
// interval itself limits the request rate, so a failed cycle is simply
// skipped and the next tick retries.
type CoinGeckoSource struct {
	baseURL     string
	vsCurrency  string
	interval    time.Duration
	assetIDs    []string
	symbols     entity.SymbolMap
	broadcaster Broadcaster
	httpClient  *http.Client
	now         func() time.Time

	// a late cycle can still be reading while the next one writes
	mu         sync.Mutex
	lastPrices map[string]string
}

func NewCoinGeckoSource(feedConfig config.FeedConfig, broadcaster Broadcaster) (*CoinGeckoSource, error) {
	if len(feedConfig.Symbols) == 0 {
		return nil, fmt.Errorf("coingecko feed has no symbols configured")
	}

	baseURL := strings.TrimSpace(feedConfig.URL)
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}

	vsCurrency := strings.ToLower(strings.TrimSpace(feedConfig.VsCurrency))
	if vsCurrency == "" {
		vsCurrency = "usd"
	}

	interval := feedConfig.PollInterval
	if interval <= 0 {
		interval = constant.DefaultPollInterval
	}

	symbols := make(entity.SymbolMap, len(feedConfig.Symbols))
	assetIDs := make([]string, 0, len(feedConfig.Symbols))
	for assetID, pair := range feedConfig.Symbols {
		normalized := strings.ToLower(strings.TrimSpace(assetID))
		symbols[normalized] = pair
		assetIDs = append(assetIDs, normalized)
	}
	sort.Strings(assetIDs)

	return &CoinGeckoSource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		vsCurrency:  vsCurrency,
		interval:    interval,
		assetIDs:    assetIDs,
		symbols:     symbols,
		broadcaster: broadcaster,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		now:         time.Now,
		lastPrices:  make(map[string]string),
	}, nil
}

func (s *CoinGeckoSource) Name() entity.SourceName {
	return entity.SourceCoinGecko
}

func (s *CoinGeckoSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.poll(ctx); err != nil {
		logrus.Errorf("coingecko poll failed: %v", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				logrus.Errorf("coingecko poll failed: %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// poll issues one batched request and emits an update per changed
// symbol. Any transport or payload error skips the whole cycle.
func (s *CoinGeckoSource) poll(ctx context.Context) error {
	endpoint := s.baseURL + "/api/v3/simple/price?ids=" + url.QueryEscape(strings.Join(s.assetIDs, ",")) + "&vs_currencies=" + url.QueryEscape(s.vsCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var quotes map[string]map[string]float64
	if err := json.Unmarshal(body, &quotes); err != nil {
		return fmt.Errorf("coingecko response parse failed: %w", err)
	}

	for _, assetID := range s.assetIDs {
		quote, ok := quotes[assetID]
		if !ok {
			logrus.Warnf("coingecko response missing asset: %s", assetID)
			continue
		}

		value, ok := quote[s.vsCurrency]
		if !ok {
			logrus.Warnf("coingecko quote missing currency %s for asset: %s", s.vsCurrency, assetID)
			continue
		}

		s.emitIfChanged(s.symbols[assetID], decimal.NewFromFloat(value).StringFixed(2))
	}

	return nil
}

func (s *CoinGeckoSource) emitIfChanged(pair, price string) {
	s.mu.Lock()
	last, seen := s.lastPrices[pair]
	if seen && last == price {
		s.mu.Unlock()
		return
	}
	s.lastPrices[pair] = price
	s.mu.Unlock()

	if seen {
		logrus.WithFields(logrus.Fields{"symbol": pair, "price": price, "previous": last}).Info("price changed")
	} else {
		logrus.WithFields(logrus.Fields{"symbol": pair, "price": price}).Info("initial price observed")
	}

	update, err := entity.NewPriceUpdate(pair, price, s.now().UnixMilli(), "0", false)
	if err != nil {
		logrus.Errorf("coingecko price update rejected: %v", err)
		return
	}

	frame, err := update.Encode()
	if err != nil {
		logrus.Errorf("coingecko price update encode failed: %v", err)
		return
	}

	s.broadcaster.Publish(frame)
}
