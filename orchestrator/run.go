// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"cvforge/platform/common/usage"
	"cvforge/platform/connectors/s3"
	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/orchestrator/prompts"
	"cvforge/platform/queue"
	"cvforge/platform/queue/processors"
	"cvforge/platform/queue/processors/render"
	"cvforge/platform/shared/config"
	"cvforge/platform/shared/logger"
	"cvforge/platform/shared/ratelimit"
)

const (
	shutdownTimeout    = 30 * time.Second
	queueGaugeInterval = 15 * time.Second
)

// Run starts the AI core: provider orchestration, the job queues with their
// worker pools, and the operations HTTP API. It blocks until SIGINT or
// SIGTERM, then drains in-flight jobs and exits.
//
// Environment variables are documented in cmd/aicore.
func Run() {
	log := logger.New("aicore")
	log.Info("", "Starting AI core...", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("", "AI core stopped with error", map[string]interface{}{"error": err.Error()})
		stop()
		os.Exit(1)
	}
	log.Info("", "AI core stopped", nil)
}

func run(ctx context.Context, log *logger.Logger) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	redisClient, err := connectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() {
		_ = redisClient.Close()
	}()
	log.Info("", "Connected to Redis", nil)

	orchOpts := []llm.Option{
		llm.WithLogger(log.With("orchestrator")),
		llm.WithConfig(routingConfig(cfg.Orchestrator)),
		llm.WithEconomyProvider(llm.ProviderType(cfg.Orchestrator.EconomyProvider)),
		llm.WithMetricsRecorder(promMetrics{}),
	}

	if cfg.DatabaseURL != "" {
		db, err := connectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() {
			_ = db.Close()
		}()
		recorder := usage.NewRecorder(db, instanceID(log), log.With("usage"))
		if err := recorder.EnsureSchema(ctx); err != nil {
			return err
		}
		orchOpts = append(orchOpts, llm.WithUsageSink(recorder))
		log.Info("", "Usage ledger enabled", nil)
	} else {
		log.Warn("", "DATABASE_URL not set, usage ledger disabled", nil)
	}

	providers, err := buildProviders(ctx, cfg.Providers, log)
	if err != nil {
		return err
	}
	routing := routingConfig(cfg.Orchestrator)
	orch, err := llm.NewOrchestrator(orderProviders(providers, routing.PrimaryProvider, routing.FallbackProvider), orchOpts...)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	registry, err := prompts.NewRegistry()
	if err != nil {
		return err
	}
	if cfg.PromptsFile != "" {
		if err := registry.LoadFile(cfg.PromptsFile); err != nil {
			return err
		}
	}
	log.Info("", "Prompt templates loaded", map[string]interface{}{"templates": registry.Keys()})

	broker := queue.NewRedisBroker(redisClient)
	manager := queue.NewManager(broker, queue.WithManagerLogger(log.With("queue")))

	g, gctx := errgroup.WithContext(ctx)

	var workers []StatsReporter
	if cfg.Workers.Enabled {
		ws, err := startWorkers(gctx, g, cfg, broker, redisClient, orch, registry, log)
		if err != nil {
			return err
		}
		workers = ws
	} else {
		log.Warn("", "Workers disabled, this instance only enqueues", nil)
	}

	g.Go(func() error {
		runQueueGauges(gctx, manager, queueGaugeInterval, log)
		return nil
	})

	api := NewAPI(orch, manager, workers, log.With("api"))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Infof("AI core listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("", "Shutting down HTTP server", nil)
		start := time.Now()
		err := server.Shutdown(shutdownCtx)
		log.InfoWithDuration("", "HTTP server stopped", float64(time.Since(start).Milliseconds()), nil)
		return err
	})

	return g.Wait()
}

// startWorkers launches the AI, PDF and webhook pools on g.
func startWorkers(ctx context.Context, g *errgroup.Group, cfg *config.Config, broker queue.Broker,
	redisClient redis.UniversalClient, orch *llm.Orchestrator, registry *prompts.Registry, log *logger.Logger) ([]StatsReporter, error) {
	metrics := promMetrics{}
	w := cfg.Workers

	aiWorker := queue.NewWorker[queue.AIJobData](queue.QueueAI, broker,
		processors.NewAIProcessor(orch, registry, log.With("ai")),
		queue.WorkerOptions{
			Concurrency: w.AI.Concurrency,
			Limiter:     newLimiter(w.RateLimitBackend, redisClient, queue.QueueAI, w.AI, log),
			Logger:      log.With("worker.ai"),
			Metrics:     metrics,
		})

	pdfOpts := processors.PDFOptions{
		RenderTimeout: time.Duration(cfg.PDF.RenderTimeoutS) * time.Second,
		Logger:        log.With("pdf"),
	}
	if cfg.PDF.Bucket != "" {
		store, err := s3.NewStore(ctx, s3.Config{
			Bucket:   cfg.PDF.Bucket,
			Region:   cfg.PDF.Region,
			Endpoint: cfg.PDF.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("pdf store: %w", err)
		}
		pdfOpts.Store = store
		log.Info("", "PDF uploads enabled", map[string]interface{}{"bucket": store.Bucket()})
	}
	renderer := render.NewChromium(render.Options{
		ExecPath:  cfg.PDF.ChromePath,
		NoSandbox: os.Geteuid() == 0,
	})
	pdfWorker := queue.NewWorker[queue.PDFJobData](queue.QueuePDF, broker,
		processors.NewPDFProcessor(renderer, pdfOpts),
		queue.WorkerOptions{
			Concurrency: w.PDF.Concurrency,
			Limiter:     newLimiter(w.RateLimitBackend, redisClient, queue.QueuePDF, w.PDF, log),
			Logger:      log.With("worker.pdf"),
			Metrics:     metrics,
		})

	webhookWorker := queue.NewWorker[queue.WebhookJobData](queue.QueueWebhook, broker,
		processors.NewWebhookProcessor(processors.WebhookOptions{
			Timeout:   time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
			UserAgent: cfg.Webhook.UserAgent,
			Logger:    log.With("webhook"),
		}),
		queue.WorkerOptions{
			Concurrency: w.Webhook.Concurrency,
			Limiter:     newLimiter(w.RateLimitBackend, redisClient, queue.QueueWebhook, w.Webhook, log),
			Logger:      log.With("worker.webhook"),
			Metrics:     metrics,
		})

	g.Go(func() error { return aiWorker.Run(ctx) })
	g.Go(func() error { return pdfWorker.Run(ctx) })
	g.Go(func() error { return webhookWorker.Run(ctx) })

	return []StatsReporter{aiWorker, pdfWorker, webhookWorker}, nil
}

// newLimiter returns the pool's rolling-window limiter. The redis backend
// shares the window across every process using the same Redis.
func newLimiter(backend string, client redis.UniversalClient, name string, pool config.PoolSettings, log *logger.Logger) ratelimit.Limiter {
	window := time.Duration(pool.RateWindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	if backend == "redis" {
		return ratelimit.NewRedisSlidingWindow(client, "workers:"+name, window, pool.RateLimit, log.With("ratelimit"))
	}
	return ratelimit.NewSlidingWindow(window, pool.RateLimit)
}

func connectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func connectPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// instanceID names this process in the usage ledger.
func instanceID(log *logger.Logger) string {
	if log.InstanceID != "" && log.InstanceID != "unknown" {
		return log.InstanceID
	}
	return uuid.NewString()
}
