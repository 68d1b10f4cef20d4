package constant

import "time"

const (
	ProductionEnvironment = "production"
)

const (
	FeedBinance   = "binance"
	FeedCoinGecko = "coingecko"
)

const (
	// DefaultInboundBuffer absorbs a multi-symbol burst from all adapters.
	DefaultInboundBuffer = 512
	// DefaultClientBuffer covers a reasonable per-client processing-delay window.
	DefaultClientBuffer = 256

	DefaultPollInterval = 10 * time.Second
)
