package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is the archived form of a broadcast price update.
type PriceTick struct {
	Symbol       string          `db:"symbol"`
	Price        decimal.Decimal `db:"price"`
	Quantity     decimal.Decimal `db:"quantity"`
	IsBuyerMaker bool            `db:"is_buyer_maker"`
	EventTime    time.Time       `db:"event_time"`
	CreatedAt    time.Time       `db:"created_at"`
}

func (t PriceTick) TableName() string {
	return "price_ticks"
}
