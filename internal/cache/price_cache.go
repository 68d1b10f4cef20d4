package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/pricefeed-service/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	latestPriceKeyPrefix = "price:latest:"
	latestPriceTTL       = 24 * time.Hour
)

// PriceCache answers "given symbol, return latest known price" for
// collaborators outside the broadcast pipeline. A miss is not an error.
type PriceCache interface {
	Set(ctx context.Context, update entity.PriceUpdate) error
	Get(ctx context.Context, symbol string) (entity.PriceUpdate, bool, error)
}

type RedisPriceCache struct {
	client *redis.Client
}

func NewRedisPriceCache(cacheDSN string) (*RedisPriceCache, error) {
	if cacheDSN == "" {
		return nil, fmt.Errorf("redis cache_dsn is required")
	}

	options, err := redis.ParseURL(cacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis cache_dsn: %w", err)
	}

	return &RedisPriceCache{client: redis.NewClient(options)}, nil
}

func (c *RedisPriceCache) Set(ctx context.Context, update entity.PriceUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, latestPriceKeyPrefix+update.Symbol, payload, latestPriceTTL).Err()
}

func (c *RedisPriceCache) Get(ctx context.Context, symbol string) (entity.PriceUpdate, bool, error) {
	raw, err := c.client.Get(ctx, latestPriceKeyPrefix+symbol).Result()
	if err != nil {
		if err == redis.Nil {
			return entity.PriceUpdate{}, false, nil
		}
		return entity.PriceUpdate{}, false, err
	}

	var update entity.PriceUpdate
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		return entity.PriceUpdate{}, false, err
	}

	return update, true, nil
}

func (c *RedisPriceCache) Close() error {
	return c.client.Close()
}
