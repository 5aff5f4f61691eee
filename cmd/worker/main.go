// Standalone fulfillment-worker process. Each instance joins the consumer
// group under its own consumer name; admission keeps running in the API
// process while orders drain here.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"flashsale/config"
	"flashsale/repository"
	"flashsale/worker"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	db, err := gorm.Open(gormmysql.Open(cfg.MySQL.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to MySQL")
	}

	mysqlRepo := repository.NewMySQLRepository(db)
	redisRepo := repository.NewRedisRepository(rdb, cfg.Stream.Name)
	kafkaRepo := repository.NewKafkaRepository(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, cfg.Kafka.DLQTopic)
	defer kafkaRepo.Close()

	orderWorker := worker.NewOrderWorker(redisRepo, mysqlRepo, kafkaRepo, rdb,
		cfg.Stream.Group, cfg.Stream.Consumer, cfg.Seckill.ReadBlock, cfg.Seckill.OrderLockTTL, logger)

	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orderWorker.Start(ctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server started")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("worker exited")
	}
}
