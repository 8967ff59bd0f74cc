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
	"github.com/mizuchi-search/mizuchi/internal/scorer"
	"github.com/mizuchi-search/mizuchi/internal/searcher/cache"
	"github.com/mizuchi-search/mizuchi/internal/searcher/handler"
	"github.com/mizuchi-search/mizuchi/internal/vector"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	"github.com/mizuchi-search/mizuchi/pkg/health"
	"github.com/mizuchi-search/mizuchi/pkg/logger"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
	"github.com/mizuchi-search/mizuchi/pkg/middleware"
	"github.com/mizuchi-search/mizuchi/pkg/postgres"
	pkgredis "github.com/mizuchi-search/mizuchi/pkg/redis"
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
	slog.Info("starting search service", "port", cfg.Server.Port)

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

	var embedder vector.Embedder
	var vectors *vector.Store
	if cfg.Embedding.Enabled() {
		embedder = vector.NewHTTPEmbedder(cfg.Embedding)
		vectors = vector.NewStore(pg, cfg.Embedding.Dimensions)
		if err := vectors.Load(ctx); err != nil {
			slog.Error("failed to load embedding store", "error", err)
			os.Exit(1)
		}
		vectors.StartRefresh(ctx, cfg.Embedding.Refresh)
		slog.Info("embedding store loaded", "vectors", vectors.Count())
	} else {
		slog.Info("embedding provider not configured, vector search disabled")
	}

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pg.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("embeddings", func(ctx context.Context) health.ComponentHealth {
		if vectors == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d vectors", vectors.Count()),
		}
	})

	s := scorer.New(store, graphStore, vectors, embedder, an, cfg.Search)
	h := handler.New(s, queryCache, cfg.Search, m)

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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
