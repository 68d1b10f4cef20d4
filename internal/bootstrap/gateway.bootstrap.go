package bootstrap

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/pricefeed-service/internal/cache"
	"github.com/krobus00/pricefeed-service/internal/config"
	"github.com/krobus00/pricefeed-service/internal/constant"
	"github.com/krobus00/pricefeed-service/internal/entity"
	pricefeedhttp "github.com/krobus00/pricefeed-service/internal/handler/pricefeed/http"
	"github.com/krobus00/pricefeed-service/internal/hub"
	"github.com/krobus00/pricefeed-service/internal/infrastructure"
	"github.com/krobus00/pricefeed-service/internal/repository"
	"github.com/krobus00/pricefeed-service/internal/service/stream"
	"github.com/krobus00/pricefeed-service/internal/source"
	"github.com/krobus00/pricefeed-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priceCache, err := cache.NewRedisPriceCache(config.Env.Redis["cache"].CacheDSN)
	util.ContinueOrFatal(err)

	var db *sqlx.DB
	var tickRepo *repository.PriceTickRepository
	if config.Env.Archive.Enabled {
		db, err = infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
		util.ContinueOrFatal(err)
		infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database["market_data"].PingInterval)
		tickRepo = repository.NewPriceTickRepository(db)
	}

	priceHub := hub.New(config.Env.Hub.InboundBuffer, config.Env.Hub.ClientBuffer)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		priceHub.Run(ctx)
	}()

	cacheUpdater := stream.NewCacheUpdater(priceCache)
	if _, ok := hub.AttachSink(priceHub, "price-cache", config.Env.Hub.ClientBuffer, cacheUpdater.HandleFrame); !ok {
		logrus.Fatal("failed to attach price cache consumer")
	}

	if tickRepo != nil {
		archiver := stream.NewTickArchiver(tickRepo)
		if _, ok := hub.AttachSink(priceHub, "tick-archive", config.Env.Archive.Buffer, archiver.HandleFrame); !ok {
			logrus.Fatal("failed to attach tick archive consumer")
		}
	}

	sources := make([]entity.Source, 0, len(config.Env.Feeds))
	if feedConfig, ok := config.Env.Feeds[constant.FeedBinance]; ok {
		binanceSource, err := source.NewBinanceSource(feedConfig, priceHub)
		util.ContinueOrFatal(err)
		sources = append(sources, binanceSource)
	}
	if feedConfig, ok := config.Env.Feeds[constant.FeedCoinGecko]; ok {
		coingeckoSource, err := source.NewCoinGeckoSource(feedConfig, priceHub)
		util.ContinueOrFatal(err)
		sources = append(sources, coingeckoSource)
	}

	if len(sources) == 0 {
		logrus.Fatal("no price feeds configured")
	}

	var sourceWG sync.WaitGroup
	for _, src := range sources {
		sourceWG.Add(1)
		go func(src entity.Source) {
			defer sourceWG.Done()
			logrus.Info("starting source: ", src.Name())
			if err := src.Run(ctx); err != nil {
				logrus.Errorf("source %s stopped: %v", src.Name(), err)
			}
		}(src)
	}

	handler := pricefeedhttp.NewPricefeedHTTPHandler(priceHub, priceCache, tickRepo)
	mux := infrastructure.NewBaseMux()
	handler.Register(mux)

	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.DefaultHTTPServerConfig(), mux)
	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Fatal(err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"source adapters": func(ctx context.Context) error {
			cancel()
			sourceWG.Wait()
			return nil
		},
		"distribution hub": func(ctx context.Context) error {
			cancel()
			<-hubDone
			return nil
		},
		"http server": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"redis cache": func(ctx context.Context) error {
			return priceCache.Close()
		},
		"database": func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			cancel()
			return db.Close()
		},
	})

	<-wait
}
