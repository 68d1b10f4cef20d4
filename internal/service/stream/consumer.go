package stream

import (
	"context"
	"time"

	"github.com/krobus00/pricefeed-service/internal/cache"
	"github.com/krobus00/pricefeed-service/internal/entity"
	"github.com/krobus00/pricefeed-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const consumerTimeout = 2 * time.Second

// CacheUpdater maintains the last-price cache from the broadcast
// stream. Store failures are logged and swallowed so a cache hiccup
// never detaches the consumer.
type CacheUpdater struct {
	cache cache.PriceCache
}

func NewCacheUpdater(priceCache cache.PriceCache) *CacheUpdater {
	return &CacheUpdater{cache: priceCache}
}

func (u *CacheUpdater) HandleFrame(frame []byte) error {
	update, err := entity.DecodePriceUpdate(frame)
	if err != nil {
		logrus.Errorf("cache updater skipping frame: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := u.cache.Set(ctx, update); err != nil {
		logrus.Warnf("cache updater store failed for %s: %v", update.Symbol, err)
	}

	return nil
}

// TickArchiver writes broadcast updates to the tick archive. Slowness
// here degrades into dropped archive frames, never backpressure on the
// hub.
type TickArchiver struct {
	repo *repository.PriceTickRepository
}

func NewTickArchiver(repo *repository.PriceTickRepository) *TickArchiver {
	return &TickArchiver{repo: repo}
}

func (a *TickArchiver) HandleFrame(frame []byte) error {
	update, err := entity.DecodePriceUpdate(frame)
	if err != nil {
		logrus.Errorf("tick archiver skipping frame: %v", err)
		return nil
	}

	tick, err := mapUpdateToTick(update)
	if err != nil {
		logrus.Errorf("tick archiver skipping frame for %s: %v", update.Symbol, err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := a.repo.Create(ctx, tick); err != nil {
		logrus.Warnf("tick archiver insert failed for %s: %v", update.Symbol, err)
	}

	return nil
}

func mapUpdateToTick(update entity.PriceUpdate) (*entity.PriceTick, error) {
	price, err := decimal.NewFromString(update.Price)
	if err != nil {
		return nil, err
	}

	quantity, err := decimal.NewFromString(update.Quantity)
	if err != nil {
		return nil, err
	}

	return &entity.PriceTick{
		Symbol:       update.Symbol,
		Price:        price,
		Quantity:     quantity,
		IsBuyerMaker: update.IsBuyerMaker,
		EventTime:    time.UnixMilli(update.Time).UTC(),
		CreatedAt:    time.Now().UTC(),
	}, nil
}
