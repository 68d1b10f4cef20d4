package entity

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// PriceUpdate is the normalized price message shared by every source
// adapter and the distribution hub. The wire shape is identical regardless
// of which adapter produced the value. Field order is fixed by the struct,
// so encoding is deterministic.
type PriceUpdate struct {
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Time         int64  `json:"time"`
	Quantity     string `json:"quantity"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// NewPriceUpdate validates the producer-supplied fields. Quantity defaults
// to "0" for sources without a trade-size concept.
func NewPriceUpdate(symbol, price string, timeMs int64, quantity string, isBuyerMaker bool) (PriceUpdate, error) {
	if symbol == "" {
		return PriceUpdate{}, fmt.Errorf("price update symbol is empty")
	}

	if err := validateDecimalString(price); err != nil {
		return PriceUpdate{}, fmt.Errorf("invalid price for %s: %w", symbol, err)
	}

	if quantity == "" {
		quantity = "0"
	}
	if err := validateDecimalString(quantity); err != nil {
		return PriceUpdate{}, fmt.Errorf("invalid quantity for %s: %w", symbol, err)
	}

	return PriceUpdate{
		Symbol:       symbol,
		Price:        price,
		Time:         timeMs,
		Quantity:     quantity,
		IsBuyerMaker: isBuyerMaker,
	}, nil
}

// Encode serializes the update to its wire form. Failure here is a
// producer bug, not a transient condition.
func (p PriceUpdate) Encode() ([]byte, error) {
	if err := validateDecimalString(p.Price); err != nil {
		return nil, fmt.Errorf("encode price update %s: %w", p.Symbol, err)
	}

	return json.Marshal(p)
}

func DecodePriceUpdate(data []byte) (PriceUpdate, error) {
	var update PriceUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return PriceUpdate{}, fmt.Errorf("decode price update: %w", err)
	}

	return update, nil
}

func validateDecimalString(raw string) error {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}

	if value.IsNegative() {
		return fmt.Errorf("negative value: %s", raw)
	}

	return nil
}
