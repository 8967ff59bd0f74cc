package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mizuchi-search/mizuchi/internal/analyzer"
	"github.com/mizuchi-search/mizuchi/internal/graph"
	"github.com/mizuchi-search/mizuchi/internal/index"
	"github.com/mizuchi-search/mizuchi/internal/ingest"
	"github.com/mizuchi-search/mizuchi/internal/jobs"
	"github.com/mizuchi-search/mizuchi/internal/vector"
	"github.com/mizuchi-search/mizuchi/internal/worker"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	"github.com/mizuchi-search/mizuchi/pkg/health"
	"github.com/mizuchi-search/mizuchi/pkg/kafka"
	"github.com/mizuchi-search/mizuchi/pkg/logger"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
	"github.com/mizuchi-search/mizuchi/pkg/middleware"
	"github.com/mizuchi-search/mizuchi/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "port", cfg.Server.Port, "workers", cfg.Indexer.Workers)

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	an, err := analyzer.New()
	if err != nil {
		slog.Error("failed to initialize analyzer", "error", err)
		os.Exit(1)
	}

	store := index.NewPostgresStore(pg)
	graphStore := graph.NewPostgresStore(pg, cfg.PageRank.DefaultRank)
	policy := jobs.RetryPolicy{
		MaxRetries: cfg.Indexer.MaxRetries,
		Base:       cfg.Indexer.RetryBase,
		Max:        cfg.Indexer.RetryMax,
	}
	queue := jobs.NewPostgresQueue(pg, cfg.Indexer.LeaseDuration, policy)

	var embedder vector.Embedder
	var vectors *vector.Store
	if cfg.Embedding.Enabled() {
		embedder = vector.NewHTTPEmbedder(cfg.Embedding)
		vectors = vector.NewStore(pg, cfg.Embedding.Dimensions)
		slog.Info("embedding provider configured", "model", cfg.Embedding.Model, "dimensions", cfg.Embedding.Dimensions)
	} else {
		slog.Info("embedding provider not configured, vector indexing disabled")
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
	}

	var publisher worker.EventPublisher
	if producer != nil {
		publisher = producer
	}
	pool := worker.NewPool(cfg.Indexer, queue, store, an, graphStore, vectors, embedder, publisher, m)
	go pool.Run(ctx)

	pagerank := graph.NewEngine(graphStore, cfg.PageRank, m)
	pagerank.Start(ctx)

	if cfg.Kafka.Enabled() {
		ingestConsumer := ingest.NewConsumer(queue, m)
		kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PageIngest, ingestConsumer.Handle)
		go func() {
			if err := kafkaConsumer.Start(ctx); err != nil {
				slog.Error("kafka consumer error", "error", err)
			}
		}()
		slog.Info("consuming page submissions from kafka",
			"topic", cfg.Kafka.Topics.PageIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pg.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("job_queue", func(ctx context.Context) health.ComponentHealth {
		stats, err := queue.Stats(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d pending, %d processing", stats.Pending, stats.Processing),
		}
	})

	h := ingest.NewHandler(queue, store, graphStore, m)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	slog.Info("indexer service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("indexer service stopped")
}
