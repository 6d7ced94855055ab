package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-manager/internal/config"
	"github.com/ignite/mail-manager/internal/dispatch"
	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/pkg/distlock"
	"github.com/ignite/mail-manager/internal/tracking"
	"github.com/ignite/mail-manager/internal/transport"
)

func main() {
	log.Println("Starting mail-manager worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("database ping: %v", err)
	}
	log.Println("Connected to database")

	store := message.NewStore(db)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	receivers := message.NewRegistry()
	composers := dispatch.NewRegistry()
	// Installs register receiver resolvers and composers here before
	// the registries freeze.
	receivers.Freeze()
	composers.Freeze()

	sender, err := transport.NewSESSender(cfg.SES)
	if err != nil {
		log.Fatalf("ses: %v", err)
	}

	var contentStore tracking.ContentStore
	var consumer *tracking.Consumer
	processor := tracking.NewProcessor(store, cfg.Tracking)
	correlator := tracking.NewCorrelator(store, receivers, nil)
	if cfg.SQS.Enabled || cfg.Tracking.LogContentStrategy == "s3" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.SQS.Region))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		if cfg.Tracking.LogContentStrategy == "s3" {
			contentStore = tracking.NewS3ContentStore(s3.NewFromConfig(awsCfg), cfg.Tracking)
		}
		if cfg.SQS.Enabled {
			consumer = tracking.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.SQS.TrackerQueueURL, processor, correlator)
		}
	}

	signer := tracking.NewSigner(cfg.Tracking.SigningKey)
	injector := tracking.NewInjector(store, signer, contentStore, cfg.Tracking)

	scheduler := dispatch.NewScheduler(dispatch.Deps{
		Store:     store,
		Receivers: receivers,
		Composers: composers,
		Transport: sender,
		Injector:  injector,
		Config:    cfg,
	})

	cleaner := message.NewCleaner(store,
		time.Duration(cfg.Retention.PurgeDeletedAfterDays)*24*time.Hour,
		time.Duration(cfg.Retention.PurgeContentAfterDays)*24*time.Hour)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if consumer != nil {
		consumer.Start(ctx)
		defer consumer.Stop()
	}

	// Pass locks keep concurrent worker instances from double-dispatching.
	go runLoop(ctx, "scheduled pass",
		distlock.New(rdb, db, "dispatch:scheduled", cfg.Dispatch.PollInterval()),
		cfg.Dispatch.PollInterval(), scheduler.RunScheduledPass)
	go runLoop(ctx, "retry pass",
		distlock.New(rdb, db, "dispatch:retry", cfg.Dispatch.RetryInterval()),
		cfg.Dispatch.RetryInterval(), scheduler.RunRetryPass)
	go runLoop(ctx, "retention pass",
		distlock.New(rdb, db, "retention", time.Hour),
		24*time.Hour, cleaner.Run)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down worker...")
	stop()
	time.Sleep(time.Second)
}

func runLoop(ctx context.Context, name string, lock distlock.Lock, interval time.Duration, pass func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runLockedPass(ctx, name, lock, pass)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runLockedPass(ctx context.Context, name string, lock distlock.Lock, pass func(context.Context) error) {
	held, err := lock.TryAcquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("%s lock: %v", name, err)
		}
		return
	}
	if !held {
		return
	}
	defer lock.Release(context.Background())

	if err := pass(ctx); err != nil && ctx.Err() == nil {
		log.Printf("%s failed: %v", name, err)
	}
}
