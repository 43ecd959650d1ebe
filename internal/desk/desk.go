// Package desk wires the swap desk together and runs it.
package desk

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/entitlement"
	"github.com/you/swap-desk/internal/fee"
	"github.com/you/swap-desk/internal/feeds"
	"github.com/you/swap-desk/internal/httpapi"
	"github.com/you/swap-desk/internal/journal"
	"github.com/you/swap-desk/internal/metrics"
	"github.com/you/swap-desk/internal/offers"
	"github.com/you/swap-desk/internal/quote"
	"github.com/you/swap-desk/internal/rates"
	"go.uber.org/zap"
)

// Desk owns the components and their lifecycle.
type Desk struct {
	cfg *config.Config
	log *zap.Logger
	rdb *redis.Client

	Resolver    *rates.Resolver
	Entitlement *entitlement.Service
	Quotes      *quote.Service
	API         *httpapi.Server
}

func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
}

// NewResolver builds the feeds and the resolver on top of them; the two
// feeds share one throttle.
func NewResolver(cfg *config.Config, log *zap.Logger) *rates.Resolver {
	limiter := feeds.NewLimiter(cfg)
	return rates.NewResolver(
		feeds.NewFiatFeed(cfg, limiter, log),
		feeds.NewCryptoFeed(cfg, limiter, log),
		log,
	)
}

func New(cfg *config.Config, log *zap.Logger) (*Desk, error) {
	feeRate, err := cfg.FeeRate()
	if err != nil {
		return nil, fmt.Errorf("fee rate: %w", err)
	}
	d := &Desk{cfg: cfg, log: log, Resolver: NewResolver(cfg, log)}

	var (
		store    offers.Store
		entStore entitlement.Store
		jrnl     quote.Journal
	)
	switch cfg.Storage {
	case config.StorageMemory:
		store = offers.NewMemoryStore(cfg.Offers.Window)
		entStore = entitlement.NewMemoryStore()
		if cfg.Journal.Enabled {
			log.Warn("journal needs redis storage; disabled")
		}
	default:
		d.rdb = NewRedisClient(cfg)
		store = offers.NewRedisStore(d.rdb, cfg)
		entStore = entitlement.NewRedisStore(d.rdb, cfg)
		if cfg.Journal.Enabled {
			jrnl = journal.NewPublisher(d.rdb, cfg, log)
		}
	}

	d.Entitlement = entitlement.NewService(entStore, cfg, log)
	d.Quotes = quote.NewService(quote.Deps{
		Rates:       d.Resolver,
		Fees:        fee.NewCalculator(feeRate),
		Policy:      cfg.Fees.Policy,
		Store:       store,
		Matcher:     offers.NewMatcher(store, cfg.Offers.SimilarLimit, log),
		Entitlement: d.Entitlement,
		Journal:     jrnl,
		RecentLimit: cfg.Offers.RecentLimit,
	}, log)
	d.API = httpapi.New(d.Quotes, d.Entitlement, d.Resolver, log)
	return d, nil
}

// Run serves the API until ctx is done or SIGINT/SIGTERM arrives.
func (d *Desk) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			d.log.Warn("received signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if d.rdb != nil {
		defer d.rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := d.rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			// запросы всё равно обслуживаем: котировки работают без хранилища
			d.log.Error("redis unreachable at startup", zap.String("addr", d.cfg.Redis.Addr), zap.Error(err))
		}
	}

	metrics.Serve(ctx, d.cfg.Metrics.ListenAddr, nil, d.log)
	d.log.Info("swap desk started",
		zap.String("listen", d.cfg.ListenAddr),
		zap.String("storage", d.cfg.Storage),
		zap.String("fee_policy", string(d.cfg.Fees.Policy)),
		zap.Bool("journal", d.cfg.Journal.Enabled && d.rdb != nil),
	)
	err := d.API.Serve(ctx, d.cfg.ListenAddr)
	d.log.Info("swap desk finished")
	return err
}
