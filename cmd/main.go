package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"freightdesk/internal/audit"
	"freightdesk/internal/cache"
	"freightdesk/internal/config"
	"freightdesk/internal/db"
	"freightdesk/internal/kafka"
	"freightdesk/internal/lifecycle"
	"freightdesk/internal/logging"
	"freightdesk/internal/metrics"
	"freightdesk/internal/processor"
	"freightdesk/internal/repository"
	"freightdesk/internal/server"
	"freightdesk/internal/stats"
	"freightdesk/internal/tracking"
)

func main() {
	cfg := config.LoadConfig()
	log := logging.New("freightdesk")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(cfg.DSN, cfg.MigrationsDir)
	if err != nil {
		log.Error("connecting to db", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	orderRepo := repository.NewOrderRepository(database)
	refRepo := repository.NewReferenceRepository(database)
	taskRepo := repository.NewPostgresTaskRepository(database)

	refCache := cache.NewReferenceCache()
	if err := refCache.Refresh(ctx, refRepo); err != nil {
		log.Warn("initial reference cache load failed", "error", err)
	}
	go refCache.StartAutoRefresh(ctx, refRepo, cfg.CacheRefresh, log)

	auditPool := audit.NewWorkerPool(audit.PoolConfig{}, log,
		&audit.DBProcessor{DB: database},
		&audit.LogProcessor{Log: log, Filter: cfg.AuditFilter},
	)
	auditPool.Start(ctx, 2)

	producer, err := kafka.NewSaramaProducer(cfg.KafkaBrokers)
	if err != nil {
		log.Error("connecting to kafka", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	relay := processor.NewTaskProcessor(taskRepo, producer, cfg.KafkaTopic,
		cfg.RelayPollInterval, cfg.RelayBatchLimit, log)
	go relay.Start(ctx)

	if cfg.ConsumeFeed {
		go func() {
			if err := kafka.StartFeedConsumer(ctx, cfg.KafkaBrokers, cfg.KafkaGroupID,
				[]string{cfg.KafkaTopic}, log); err != nil {
				log.Error("tracking feed consumer stopped", "error", err)
			}
		}()
	}

	engine := lifecycle.NewEngine(orderRepo)
	ledger := tracking.NewLedger(orderRepo)
	aggregator := stats.NewAggregator(orderRepo)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	srv := server.NewServer(engine, orderRepo, ledger, aggregator, refRepo, refCache, auditPool, log, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		log.Error("server stopped", "error", err)
	case <-ctx.Done():
		log.Info("shutting down")
	}

	stop()
	auditPool.Shutdown()
}
