package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/MicroNet-Diagnostics/internal/application/diagnosis"
	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	redisinfra "github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/database/redis"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/prometheus"
)

// resultRetention bounds how long a finished result is kept for republishing.
const resultRetention = 24 * time.Hour

type workerOptions struct {
	concurrency  int
	warm         bool
	ensureTopics bool
	partitions   int
	replication  int
}

// NewWorkerCmd runs the Kafka prediction worker until SIGINT or SIGTERM.
func NewWorkerCmd() *cobra.Command {
	opts := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume prediction tasks from Kafka and publish results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cliCtx, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.concurrency, "concurrency", 0, "consumer goroutines (default: worker.concurrency)")
	f.BoolVar(&opts.warm, "warm", false, "load every registry model before consuming")
	f.BoolVar(&opts.ensureTopics, "ensure-topics", false, "create the request, result and dlq topics if missing")
	f.IntVar(&opts.partitions, "partitions", 3, "partitions for topics created by --ensure-topics")
	f.IntVar(&opts.replication, "replication", 1, "replication factor for topics created by --ensure-topics")
	return cmd
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "micronet"
	}
	return host + "-" + uuid.New().String()[:8]
}

func runWorker(ctx context.Context, cliCtx *CLIContext, opts *workerOptions) error {
	cfg := cliCtx.Config
	logger := cliCtx.Logger.Named("worker")
	id := workerID()

	concurrency := cfg.Worker.Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}
	logger.Info("starting prediction worker",
		logging.String("worker_id", id),
		logging.Int("concurrency", concurrency),
		logging.String("topic", cfg.Kafka.RequestTopic),
		logging.Strings("brokers", cfg.Kafka.Brokers))

	var collector prometheus.MetricsCollector
	workerMetrics := prometheus.NewNoopWorkerMetrics()
	if cfg.Metrics.Enabled {
		c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			return errWorker("metrics", err)
		}
		collector = c
		workerMetrics = prometheus.NewWorkerMetrics(c)
	}

	if cliCtx.ConfigPath != "" {
		if err := config.Watch(cliCtx.ConfigPath, func(next *config.Config) {
			if logging.SetLevel(cliCtx.Logger, next.Log.Level) {
				logger.Info("log level reloaded", logging.String("level", next.Log.Level))
			}
			logger.Warn("configuration file changed; settings other than log.level apply after a restart")
		}, func(err error) {
			logger.Error("configuration file changed to an invalid revision", logging.Err(err))
		}); err != nil {
			logger.Warn("configuration watch disabled", logging.Err(err))
		}
	}

	s, err := newStack(ctx, cfg, collector, logger)
	if err != nil {
		return errWorker("engine", err)
	}
	defer s.Close()

	rc, err := redisinfra.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		return errWorker("redis", err)
	}
	defer rc.Close()

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, logger)
	if err != nil {
		return errWorker("kafka producer", err)
	}
	defer producer.Close()

	if opts.ensureTopics {
		if err := ensureTopics(cfg.Kafka, opts.partitions, opts.replication, logger); err != nil {
			return errWorker("topics", err)
		}
	}

	svc, err := diagnosis.NewService(diagnosis.ServiceConfig{
		ResultTopic: cfg.Kafka.ResultTopic,
		WorkerID:    id,
	}, diagnosis.ServiceDeps{
		Predictor: s.engine,
		Resolver:  s.imageResolver(ctx),
		Claimer:   redisinfra.NewTaskClaimer(rc, cfg.Redis.ClaimTTL, 0, logger),
		Results:   redisinfra.NewResultStore(rc, resultRetention),
		Publisher: producer,
		Metrics:   workerMetrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if opts.warm {
		warmAll(ctx, s, logger)
	}

	checks := []healthCheck{{name: "redis", check: rc.Ping}}
	if s.minio != nil {
		checks = append(checks, healthCheck{name: "minio", check: s.minio.HealthCheck})
	}
	health := newHealthServer(cfg.Worker.HealthAddr, checks, collectorHandler(collector), logger)
	health.Start()

	consumers := make([]*kafka.Consumer, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		c, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Kafka), svc.HandleMessage, producer, logger.With(logging.Int("consumer", i)))
		if err != nil {
			for _, prev := range consumers {
				_ = prev.Close()
			}
			return errWorker("kafka consumer", err)
		}
		c.OnDeadLetter(func(code string) {
			workerMetrics.DeadLettered.WithLabelValues(code).Inc()
		})
		consumers = append(consumers, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		c := c
		g.Go(func() error { return c.Run(gctx) })
	}
	health.SetReady(true)
	logger.Info("worker started", logging.Int("consumers", len(consumers)))

	<-gctx.Done()
	health.SetReady(false)
	logger.Info("shutting down worker")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(cfg.Worker.ShutdownTimeout):
		logger.Warn("shutdown timeout exceeded, closing consumers")
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			logger.Warn("consumer close failed", logging.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}
	logger.Info("worker stopped")
	return runErr
}

func ensureTopics(cfg config.KafkaConfig, partitions, replication int, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(cfg.Brokers, logger)
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureTopics(kafka.WorkerTopics(cfg, partitions, replication))
}

// warmAll loads every registry model. Failures are logged; the worker still
// starts and the affected keys fall back to the error envelope.
func warmAll(ctx context.Context, s *stack, logger logging.Logger) {
	for _, key := range s.registry.Keys() {
		i := strings.LastIndex(key, "_")
		if i <= 0 {
			continue
		}
		start := time.Now()
		h, err := s.engine.Warm(ctx, key[:i], key[i+1:])
		if err != nil {
			logger.Warn("model warm-up failed", logging.String("cache_key", key), logging.Err(err))
			continue
		}
		logger.Info("model warmed",
			logging.String("cache_key", key),
			logging.String(logging.FieldTier, h.Tier),
			logging.Duration("elapsed", time.Since(start)))
	}
}

func collectorHandler(c prometheus.MetricsCollector) http.Handler {
	if c == nil {
		return nil
	}
	return c.Handler()
}

// errWorker wraps a startup error with the stage that failed.
func errWorker(stage string, err error) error {
	return fmt.Errorf("worker %s: %w", stage, err)
}
