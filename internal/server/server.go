package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/zhejian/linkboard/internal/api"
	"github.com/zhejian/linkboard/internal/config"
	"github.com/zhejian/linkboard/internal/events"
	"github.com/zhejian/linkboard/internal/middleware"
	"github.com/zhejian/linkboard/internal/repository"
	"github.com/zhejian/linkboard/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps are the long-lived resources the router is built on.
// Cache, Publisher and Metrics are optional.
type Deps struct {
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Publisher events.Publisher
	Logger    *slog.Logger
	Metrics   http.Handler
}

// redisPinger adapts *redis.Client and the cached repository's breaker
// to api.CacheInterface.
type redisPinger struct {
	client *redis.Client
	repo   *repository.CachedLinkRepository
}

func (r *redisPinger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisPinger) Bypassed() bool {
	return r.repo.CacheBypassed()
}

// dbProbe adapts the pool and repository to api.DBInterface.
type dbProbe struct {
	pool *pgxpool.Pool
	repo *repository.LinkRepository
}

func (d *dbProbe) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *dbProbe) Now(ctx context.Context) (time.Time, error) {
	return d.repo.Now(ctx)
}

// NewRouter initializes all dependencies and returns a configured Gin router.
// This is useful for testing where you don't need the full HTTP server.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseRepo := repository.NewLinkRepository(deps.DB)
	linkRepo := repository.NewCachedLinkRepository(baseRepo, deps.Cache, cfg.Cache.TTL)
	linkService := service.NewLinkService(linkRepo, service.Options{
		BaseURL:          cfg.App.BaseURL,
		ShortCodeLen:     cfg.App.ShortCodeLen,
		ShortCodeRetries: cfg.App.ShortCodeRetries,
		StoreTimeout:     cfg.Database.QueryTimeout,
		Publisher:        deps.Publisher,
		Logger:           logger,
	})

	// A nil *redis.Client must not become a non-nil interface
	var cache api.CacheInterface
	if deps.Cache != nil {
		cache = &redisPinger{client: deps.Cache, repo: linkRepo}
	}

	handler := api.NewHandler(linkService, &dbProbe{pool: deps.DB, repo: baseRepo}, cache, logger, cfg.App.Version)

	// gin.New() gives us a bare engine; we add middleware explicitly
	// so the order is: tracing -> recovery -> request id -> logging
	router := gin.New()
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(logger))

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	handler.RegisterRoutes(router)

	return router
}

// NewServer initializes all dependencies and returns a configured HTTP server.
// This includes the router plus HTTP server settings (timeouts, address, etc.).
func NewServer(cfg *config.Config, deps Deps) *http.Server {
	router := NewRouter(cfg, deps)

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
