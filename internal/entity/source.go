package entity

import "context"

type SourceName string

const (
	SourceBinance   SourceName = "binance"
	SourceCoinGecko SourceName = "coingecko"
)

// Source bridges one external price feed into the normalized message
// shape. Run blocks until ctx is cancelled; transport failures are
// recovered internally (reconnect or next poll tick) and never returned.
type Source interface {
	Name() SourceName
	Run(ctx context.Context) error
}

// SymbolMap maps an upstream identifier (stream symbol, asset id) to the
// exchange-style pair code used on the wire. Immutable after construction,
// injected into each adapter.
type SymbolMap map[string]string
