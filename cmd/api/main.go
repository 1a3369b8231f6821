package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-stock-holds/internal/checkout"
	"github.com/ariefcatur/go-stock-holds/internal/config"
	"github.com/ariefcatur/go-stock-holds/internal/httpx"
	"github.com/ariefcatur/go-stock-holds/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-holds/internal/kafka"
	"github.com/ariefcatur/go-stock-holds/internal/logging"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
	"github.com/ariefcatur/go-stock-holds/internal/postgres"
	"github.com/ariefcatur/go-stock-holds/internal/redisx"
	"github.com/ariefcatur/go-stock-holds/internal/sweeper"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		ledger inventory.Store
		store  orders.Store
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory stores; state is lost on restart")
		ledger, store = inventory.NewMemoryLedger(), orders.NewMemoryStore()
	case config.DriverPostgres:
		if cfg.AutoMigrate {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		pg := &inventory.PgLedger{DB: db}
		ledger, store = pg, &orders.PgStore{DB: db, Ledger: pg}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	var events orders.Publisher = orders.NopPublisher{}
	if cfg.KafkaEnabled {
		prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024, logger)
		prod.Start()
		defer prod.Close() // flush buffered events after the server stops
		events = &kafkax.EventPublisher{P: prod}
	}

	svc := &orders.Service{
		Store:    store,
		Ledger:   ledger,
		Events:   events,
		Log:      logger.Named("orders"),
		Producer: cfg.ServiceName,
	}
	oh := &httpx.OrdersHandler{
		Checkout: &checkout.Orchestrator{
			Ledger:   ledger,
			Orders:   store,
			Events:   events,
			Log:      logger.Named("checkout"),
			Producer: cfg.ServiceName,
			HoldTTL:  cfg.HoldTTL,
		},
		Orders: svc,
		Log:    logger,
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			// cache and idempotency are optional; the stores stay authoritative
			logger.Warn("redis unavailable, continuing without cache", zap.Error(err))
		} else {
			defer rdb.Close()
			oh.Cache = redisx.NewOrderCache(rdb, logger.Named("cache"))
			oh.Idem = &redisx.Idempotency{RDB: rdb}
		}
	}

	router := httpx.NewRouter(logger.Named("http"))
	(&httpx.InventoryHandler{Store: ledger, Log: logger.Named("inventory")}).Register(router)
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if cfg.Sweep.Enabled {
		sw := &sweeper.Sweeper{
			Finder:    store,
			Expirer:   svc,
			Log:       logger.Named("sweeper"),
			Interval:  cfg.Sweep.Interval,
			BatchSize: cfg.Sweep.BatchSize,
			Workers:   cfg.Sweep.Workers,
		}
		g.Go(func() error { return sw.Run(gctx) })
	}
	return g.Wait()
}
