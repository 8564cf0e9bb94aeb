package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/classifier"
	"github.com/firewatch/flames/internal/database"
	"github.com/firewatch/flames/internal/incident"
	"github.com/firewatch/flames/internal/ingest"
	"github.com/firewatch/flames/internal/lock"
	"github.com/firewatch/flames/internal/logger"
	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/notify"
	"github.com/firewatch/flames/internal/queue"
	"github.com/firewatch/flames/internal/relay"
	"github.com/firewatch/flames/internal/server"
	"github.com/firewatch/flames/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format, "flames-worker")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	os.Exit(logger.Finish(zlog, "Worker", run(cfg, zlog)))
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("Starting classification worker")

	reg := metrics.NewRegistry()
	workerMetrics := metrics.NewWorkerMetrics(reg)
	var checks []server.HealthCheck

	// Storage
	var store ingest.Store
	switch cfg.Database.Driver {
	case config.DriverMemory:
		store = database.NewMemory()
		zlog.Warn("Using in-memory storage, readings are lost on restart")
	default:
		db, err := database.Connect(cfg.Database.ConnectionString())
		if err != nil {
			return err
		}
		defer db.Close()
		zlog.Info("Connected to database", zap.String("host", cfg.Database.Host))

		if err := db.RunMigrations(cfg.Database.MigrationsDir, zlog); err != nil {
			return err
		}
		store = db
		checks = append(checks, func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		})
	}

	// Classifier
	var cls classifier.Classifier
	if cfg.Classifier.URL != "" {
		cls = classifier.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.Timeout)
		zlog.Info("Using remote classifier", zap.String("url", cfg.Classifier.URL))
	} else {
		model, err := classifier.LoadLinearModel(cfg.Classifier.ModelPath)
		if err != nil {
			return err
		}
		cls = model
		zlog.Info("Loaded classifier model",
			zap.String("path", cfg.Classifier.ModelPath),
			zap.Strings("classes", model.Classes),
		)
	}

	// Per-node serialization
	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		zlog.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		locker = lock.NewRedisLocker(redisClient, cfg.Redis.LockTTL, zlog)
		checks = append(checks, func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(pingCtx).Err()
		})
	}

	// Notification sinks
	var sinks []notify.Sink
	if cfg.Notify.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.URL))
		zlog.Info("Webhook notifications enabled", zap.String("url", cfg.Notify.URL))
	}
	if cfg.Notify.Kafka {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicIncidents)
		defer producer.Close()
		sinks = append(sinks, notify.NewKafkaSink(producer))
		zlog.Info("Kafka incident notifications enabled", zap.String("topic", cfg.Kafka.TopicIncidents))
	}
	fanout := notify.NewFanout(cfg.Notify.Timeout, workerMetrics, zlog, sinks...)

	tracker := incident.NewTracker(incident.Policy{MinConfidence: cfg.Classifier.MinConfidence}, zlog)
	worker := ingest.NewWorker(store, cls, tracker, locker, fanout, workerMetrics, cfg.Gateway.Location(), zlog)

	// Uplink source
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "flames-worker-" + uuid.NewString()[:8]
	}
	transport, err := relay.OpenTransport(cfg, clientID, cfg.Kafka.GroupID, zlog)
	if err != nil {
		return err
	}
	defer transport.Close()
	checks = append(checks, transport.Check)
	zlog.Info("Consuming uplink", zap.String("transport", transport.Name))

	ops := server.NewOpsServer(cfg.Ops.Addr, reg, zlog, checks...)
	if err := ops.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Stop(shutdownCtx); err != nil {
			zlog.Warn("Failed to stop ops server", zap.Error(err))
		}
	}()

	if err := worker.Run(ctx, transport.Source); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	zlog.Info("Shutting down gracefully...")
	return nil
}
