package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/config"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/handler"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/cache"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/db"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/events"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/notify"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	infraRepo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/repository"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/logger"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/paymob"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/server"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/usecase"
)

// runner は errgroup で回すもの
type runner interface {
	Run(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.GoEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	//DB接続
	gormDB, err := db.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(gormDB); err != nil {
			return err
		}
	}

	c, closeCache := newCache(cfg, log)
	defer closeCache()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.SNSAlertTopicARN != "" {
		notifier = notify.NewSNSNotifier(awsCfg, cfg.SNSAlertTopicARN, log)
	}

	var publisher events.Publisher = events.Noop{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(brokers, cfg.KafkaOrderTopic, log)
		defer func() { _ = kp.Close() }()
		publisher = kp
	}

	// ジョブキュー（SQS があればそちら）
	registry := queue.NewRegistry()
	var (
		jobs   queue.Enqueuer
		worker runner
	)
	if cfg.SQSQueueURL != "" {
		q := queue.NewSQSQueue(awsCfg, cfg.SQSQueueURL, registry, log)
		jobs, worker = q, q
	} else {
		q := queue.NewMemoryQueue(registry, log, cfg.QueueWorkers, cfg.QueueMaxRetries, 1024)
		q.OnDeadLetter(usecase.DeadLetterAlert(notifier, log))
		jobs, worker = q, q
	}

	// Usecase
	tx := infraRepo.NewTxManagerGorm(gormDB)
	policy := usecase.RestockPolicy{OnRefund: cfg.RestockOnRefund, OnReturn: cfg.RestockOnReturn}
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	pricing := usecase.Pricing{
		TaxRate:               cfg.TaxRate,
		ShippingFee:           cfg.ShippingFee,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	}

	inventoryUC := usecase.NewInventoryUsecase(tx, policy, jobs, log)
	cartUC := usecase.NewCartUsecase(tx, c, ttl, jobs, log)
	orderUC := usecase.NewOrderUsecase(tx, c, ttl, pricing, jobs, log)
	stateUC := usecase.NewOrderStateUsecase(tx, policy, jobs, log)
	webhookUC := usecase.NewPaymentWebhookUsecase(tx, paymob.NewVerifier(cfg.PaymobHMACSecret), stateUC, jobs, log)

	usecase.RegisterJobHandlers(registry, inventoryUC, c, notifier, publisher)

	// Handler
	e := server.New(log)
	server.RegisterRoutes(e, cfg.JWTSecret, server.Handlers{
		Cart:         handler.NewCartHandler(cartUC),
		Order:        handler.NewOrderHandler(orderUC, stateUC),
		AdminOrder:   handler.NewAdminOrderHandler(orderUC, stateUC),
		AdminVariant: handler.NewAdminVariantHandler(inventoryUC),
		Webhook:      handler.NewWebhookHandler(webhookUC),
	}, dbHealth(gormDB))

	return serveThenDrain(ctx, func(ctx context.Context) error {
		return server.Run(ctx, e, ":"+cfg.Port, log)
	}, worker)
}

// serveThenDrain は serve が返ってから worker を止める。
// HTTP の drain 中に commit したリクエストのジョブもキューに載る
func serveThenDrain(ctx context.Context, serve func(ctx context.Context) error, worker runner) error {
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorker()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopWorker()
		return serve(gctx)
	})
	g.Go(func() error {
		return worker.Run(workerCtx)
	})
	return g.Wait()
}

func newCache(cfg config.Config, log *zap.Logger) (cache.Cache, func()) {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, cache disabled")
		return cache.Noop{}, func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
	return cache.NewRedisCache(rdb), func() { _ = rdb.Close() }
}

func dbHealth(gdb *gorm.DB) server.HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return sqlDB.PingContext(pingCtx)
	}
}
