package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stock-holds/internal/config"
	"github.com/ariefcatur/go-stock-holds/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-holds/internal/kafka"
	"github.com/ariefcatur/go-stock-holds/internal/logging"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
	"github.com/ariefcatur/go-stock-holds/internal/postgres"
	"github.com/ariefcatur/go-stock-holds/internal/sweeper"
)

// The standalone sweeper shares the API's database. Any number of replicas
// may run; conditional transitions keep each release exactly-once.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	var events orders.Publisher = orders.NopPublisher{}
	if cfg.KafkaEnabled {
		prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024, logger)
		prod.Start()
		defer prod.Close()
		events = &kafkax.EventPublisher{P: prod}
	}

	ledger := &inventory.PgLedger{DB: db}
	store := &orders.PgStore{DB: db, Ledger: ledger}
	sw := &sweeper.Sweeper{
		Finder: store,
		Expirer: &orders.Service{
			Store:    store,
			Ledger:   ledger,
			Events:   events,
			Log:      logger.Named("orders"),
			Producer: cfg.ServiceName + "-sweeper",
		},
		Log:       logger.Named("sweeper"),
		Interval:  cfg.Sweep.Interval,
		BatchSize: cfg.Sweep.BatchSize,
		Workers:   cfg.Sweep.Workers,
	}
	if err := sw.Run(ctx); err != nil {
		logger.Error("sweeper exited", zap.Error(err))
	}
}
