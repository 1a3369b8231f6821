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
	kafkax "github.com/ariefcatur/go-stock-holds/internal/kafka"
	"github.com/ariefcatur/go-stock-holds/internal/logging"
	"github.com/ariefcatur/go-stock-holds/internal/notify"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
	"github.com/ariefcatur/go-stock-holds/internal/redisx"
)

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

	svc := &notify.Service{
		Notifier: notify.LogNotifier{Log: logger.Named("notice")},
		Log:      logger,
	}
	if cfg.RedisAddr != "" {
		rdb, err := redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		svc.Redis = rdb
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrderLifecycle, cfg.NotifierWork, logger)
	logger.Info("notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.String("topic", orders.TopicOrderLifecycle),
		zap.Int("workers", cfg.NotifierWork))
	if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
		logger.Error("consumer exit", zap.Error(err))
	}
	logger.Info("notifier stopped")
}
