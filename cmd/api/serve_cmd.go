package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"orgchart/api/internal/advisor"
	"orgchart/api/internal/app"
	"orgchart/api/internal/blob"
	"orgchart/api/internal/cache"
	"orgchart/api/internal/config"
	"orgchart/api/internal/export"
	"orgchart/api/internal/history"
	"orgchart/api/internal/orgstore"
	"orgchart/api/internal/registry"
	"orgchart/api/internal/search"
	"orgchart/api/internal/store"
	"orgchart/api/internal/tenant"
	"orgchart/api/internal/upload"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	parts, closeStore, err := openPartitions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	charts := orgstore.New(parts, orgstore.Options{
		MaxAttempts: cfg.SaveMaxAttempts,
		Logger:      logger.Named("orgstore"),
	})
	checks := map[string]app.Pinger{}

	var (
		redisCache    *cache.RedisCache
		registryCache registry.Cache
		advisorCache  advisor.Cache
		limiterStore  limiter.Store
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, running without cache", zap.Error(err))
		} else {
			defer redisCache.Close()
			registryCache = redisCache
			advisorCache = redisCache
			checks["redis"] = redisCache
			limiterStore, err = sredis.NewStoreWithOptions(redisCache.Client(), limiter.StoreOptions{
				Prefix:   "orgchart:limiter",
				MaxRetry: 3,
			})
			if err != nil {
				logger.Warn("redis rate limit store failed, falling back to memory", zap.Error(err))
				limiterStore = nil
			}
		}
	}

	lookup := registry.New(registry.Options{
		URL:      cfg.Registry.URL,
		Timeout:  cfg.Registry.Timeout,
		CacheTTL: cfg.Registry.CacheTTL,
		Cache:    registryCache,
		Logger:   logger.Named("registry"),
	})
	tenants := tenant.NewService(charts, lookup, logger.Named("tenant"))

	blobs, err := blob.New(blob.Options{
		Endpoint:      cfg.Blob.Endpoint,
		AccessKey:     cfg.Blob.AccessKey,
		SecretKey:     cfg.Blob.SecretKey,
		Bucket:        cfg.Blob.Bucket,
		Region:        cfg.Blob.Region,
		UseSSL:        cfg.Blob.UseSSL,
		PublicBaseURL: cfg.Blob.PublicBaseURL,
		SignedURLTTL:  cfg.Blob.SignedURLTTL,
	})
	if err != nil {
		return err
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := blobs.EnsureBucket(bucketCtx); err != nil {
		logger.Warn("blob bucket check failed, uploads may fail until storage is reachable",
			zap.String("bucket", cfg.Blob.Bucket),
			zap.Error(err),
		)
	}
	cancel()
	checks["blob"] = blobs

	uploads := upload.NewGateway(blobs, charts, upload.Options{
		MaxFileBytes: cfg.Upload.MaxFileBytes,
		MaxFiles:     cfg.Upload.MaxFiles,
		Logger:       logger.Named("upload"),
	})

	var completer advisor.Completer = advisor.Unconfigured{}
	if strings.TrimSpace(cfg.OpenAI.APIKey) != "" {
		completer = advisor.NewOpenAICompleter(advisor.OpenAIOptions{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout,
		})
	} else {
		logger.Warn("OPENAI_API_KEY not set, AI routes will answer 502")
	}
	advice := advisor.NewService(completer, advisor.Options{
		SuggestMaxTokens: cfg.OpenAI.SuggestMaxToken,
		ChatMaxTokens:    cfg.OpenAI.ChatMaxTokens,
		Cache:            advisorCache,
		CacheTTL:         cfg.OpenAI.SuggestCacheTTL,
		Logger:           logger.Named("advisor"),
	})

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meilisearch"))
		defer meili.Close()
		engine = meili
	}
	searcher := search.NewService(engine, charts, logger.Named("search"))

	if cfg.HistoryDir != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	hist := history.New(cfg.HistoryDir, logger.Named("history"))
	exporter := export.NewService(charts, logger.Named("export"))

	service := app.NewService(app.Deps{
		Charts:   charts,
		Tenants:  tenants,
		Uploads:  uploads,
		Advisor:  advice,
		Search:   searcher,
		History:  hist,
		Exporter: exporter,
		Checks:   checks,
		Logger:   logger.Named("app"),
	})

	serverOpts := app.ServerOptions{
		CORSOrigin:   cfg.CORSOrigin,
		LimiterStore: limiterStore,
		Logger:       logger.Named("http"),
	}
	if cfg.AIRateLimit != "" {
		rate, err := limiter.NewRateFromFormatted(cfg.AIRateLimit)
		if err != nil {
			return fmt.Errorf("parse AI_RATE_LIMIT: %w", err)
		}
		serverOpts.AIRate = rate
	}

	httpServer := app.NewHTTPServer(service, serverOpts)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("org chart API listening",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.StoreBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// openPartitions connects the configured partition store. Postgres applies
// pending migrations before serving.
func openPartitions(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Partitions, func(), error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "mongo":
		mongoStore, err := store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(closeCtx); err != nil {
				logger.Warn("mongo disconnect", zap.Error(err))
			}
		}
		return mongoStore, closeFn, nil
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: cfg.DBMaxOpenConn})
		if err != nil {
			return nil, nil, err
		}
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
	}
}
