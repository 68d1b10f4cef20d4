package stream

import (
	"context"
	"testing"

	"github.com/krobus00/pricefeed-service/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	prices map[string]entity.PriceUpdate
}

func (c *fakeCache) Set(_ context.Context, update entity.PriceUpdate) error {
	c.prices[update.Symbol] = update
	return nil
}

func (c *fakeCache) Get(_ context.Context, symbol string) (entity.PriceUpdate, bool, error) {
	update, ok := c.prices[symbol]
	return update, ok, nil
}

func TestCacheUpdaterHandleFrame(t *testing.T) {
	priceCache := &fakeCache{prices: map[string]entity.PriceUpdate{}}
	updater := NewCacheUpdater(priceCache)

	update, err := entity.NewPriceUpdate("BTCUSDT", "50125.50", 1700000000000, "0", false)
	require.NoError(t, err)
	frame, err := update.Encode()
	require.NoError(t, err)

	require.NoError(t, updater.HandleFrame(frame))
	assert.Equal(t, update, priceCache.prices["BTCUSDT"])

	// a garbage frame is skipped, not fatal to the consumer
	require.NoError(t, updater.HandleFrame([]byte("garbage")))
	assert.Len(t, priceCache.prices, 1)
}

func TestMapUpdateToTick(t *testing.T) {
	update, err := entity.NewPriceUpdate("ETHUSDT", "3125.50", 1700000000000, "1.25", true)
	require.NoError(t, err)

	tick, err := mapUpdateToTick(update)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", tick.Symbol)
	assert.Equal(t, "3125.5", tick.Price.String())
	assert.Equal(t, "1.25", tick.Quantity.String())
	assert.True(t, tick.IsBuyerMaker)
	assert.Equal(t, int64(1700000000000), tick.EventTime.UnixMilli())

	_, err = mapUpdateToTick(entity.PriceUpdate{Symbol: "X", Price: "bad", Quantity: "0"})
	assert.Error(t, err)
}
