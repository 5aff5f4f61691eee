package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"flashsale/cache"
	"flashsale/config"
	"flashsale/handler"
	"flashsale/metrics"
	"flashsale/repository"
	"flashsale/service"
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
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure connection pool")
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&repository.SeckillVoucher{}, &repository.VoucherOrder{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	redisRepo := repository.NewRedisRepository(rdb, cfg.Stream.Name)
	mysqlRepo := repository.NewMySQLRepository(db)
	kafkaRepo := repository.NewKafkaRepository(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, cfg.Kafka.DLQTopic)
	defer kafkaRepo.Close()

	idWorker := repository.NewIDWorker(rdb)
	cacheClient := cache.New(rdb, logger)
	voucherSvc := service.NewVoucherService(cacheClient, mysqlRepo, cfg.Seckill.CacheTTL)
	seckillSvc := service.NewSeckillService(redisRepo, idWorker, voucherSvc, logger)

	warmUp(ctx, logger, mysqlRepo, redisRepo, voucherSvc)

	orderWorker := worker.NewOrderWorker(redisRepo, mysqlRepo, kafkaRepo, rdb,
		cfg.Stream.Group, cfg.Stream.Consumer, cfg.Seckill.ReadBlock, cfg.Seckill.OrderLockTTL, logger)

	mux := http.NewServeMux()
	mux.Handle("/seckill", handler.NewSeckillHandler(seckillSvc))

	// Sets up (or resets) a sale: voucher row, Redis stock, warmed cache.
	mux.HandleFunc("/admin/prepare", func(w http.ResponseWriter, r *http.Request) {
		voucherID, err := strconv.ParseInt(r.URL.Query().Get("voucher_id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error": "invalid voucher_id"}`, http.StatusBadRequest)
			return
		}
		stock, err := strconv.Atoi(r.URL.Query().Get("stock"))
		if err != nil || stock < 0 {
			http.Error(w, `{"error": "invalid stock"}`, http.StatusBadRequest)
			return
		}
		window := time.Hour
		if mins, err := strconv.Atoi(r.URL.Query().Get("minutes")); err == nil && mins > 0 {
			window = time.Duration(mins) * time.Minute
		}

		voucher := &repository.SeckillVoucher{
			VoucherID: voucherID,
			Title:     r.URL.Query().Get("title"),
			Stock:     stock,
			BeginTime: time.Now(),
			EndTime:   time.Now().Add(window),
		}
		if err := mysqlRepo.SaveVoucher(r.Context(), voucher); err != nil {
			http.Error(w, `{"error": "failed to save voucher"}`, http.StatusInternalServerError)
			return
		}
		if err := seckillSvc.PrepareVoucher(r.Context(), voucher); err != nil {
			http.Error(w, `{"error": "failed to prepare sale"}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"message": "sale prepared"}`))
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orderWorker.Start(ctx) })
	g.Go(func() error {
		refreshStockGauges(ctx, mysqlRepo, redisRepo)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server started")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("seckill server started")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

// warmUp replays known sales into Redis after a restart: cache entries are
// rewritten, stock counters are seeded only when absent so a live counter
// is never reset.
func warmUp(ctx context.Context, logger zerolog.Logger,
	mysqlRepo *repository.MySQLRepository, redisRepo *repository.RedisRepository,
	vouchers *service.VoucherService) {

	rows, err := mysqlRepo.ListVouchers(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("voucher warm-up skipped")
		return
	}
	for i := range rows {
		v := &rows[i]
		if err := vouchers.Warm(ctx, v); err != nil {
			logger.Warn().Err(err).Int64("voucher", v.VoucherID).Msg("cache warm failed")
		}
		if err := redisRepo.SeedStock(ctx, strconv.FormatInt(v.VoucherID, 10), v.Stock); err != nil {
			logger.Warn().Err(err).Int64("voucher", v.VoucherID).Msg("stock seed failed")
		}
	}
	logger.Info().Int("vouchers", len(rows)).Msg("warm-up complete")
}

// refreshStockGauges mirrors live Redis stock levels into Prometheus.
func refreshStockGauges(ctx context.Context, mysqlRepo *repository.MySQLRepository,
	redisRepo *repository.RedisRepository) {

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := mysqlRepo.ListVouchers(ctx)
			if err != nil {
				continue
			}
			for _, v := range rows {
				id := strconv.FormatInt(v.VoucherID, 10)
				stock, err := redisRepo.GetStock(ctx, id)
				if err != nil {
					continue
				}
				if stock < 0 {
					stock = 0
				}
				metrics.VoucherStockLevel.WithLabelValues(id).Set(float64(stock))
			}
		}
	}
}
