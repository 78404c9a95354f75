// Package main is the entry point for the discovery API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/discovery/internal/api"
	"github.com/onnwee/discovery/internal/auth"
	"github.com/onnwee/discovery/internal/config"
	"github.com/onnwee/discovery/internal/db"
	"github.com/onnwee/discovery/internal/health"
	"github.com/onnwee/discovery/internal/middleware"
	"github.com/onnwee/discovery/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Discovery API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil || len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:    "discovery-api",
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.Env == "development",
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	var database *sql.DB
	if cfg.DatabaseURL != "" {
		database, err = db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig(), logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		missing, err := db.CheckSchema(ctx, database)
		if err != nil {
			logger.Error("failed to check database schema", "error", err)
			os.Exit(1)
		}
		if len(missing) > 0 {
			logger.Error("database schema incomplete, apply migrations", "missing_tables", missing)
			os.Exit(1)
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := buildEngine(ctx, cfg, logger, database, rdb, buildUpstreams(cfg, logger), reg)
	if err != nil {
		logger.Error("failed to build discovery engine", "error", err)
		os.Exit(1)
	}
	eng.start(ctx)

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	healthCfg := api.HealthHandlersConfig{
		Generation: func() int64 {
			if s := eng.index.Current(); s != nil {
				return s.Generation
			}
			return 0
		},
	}
	if database != nil {
		healthCfg.DBChecker = health.WithTimeout(health.Postgres(database), 0)
	}
	if rdb != nil {
		healthCfg.RedisChecker = health.WithTimeout(health.Redis(rdb), 0)
	}

	jwt := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	mux := api.NewRouter(api.Routes{
		Health:   api.NewHealthHandlers(healthCfg),
		Feed:     api.NewFeedHandlers(eng.feed, eng.profiles),
		Fairness: api.NewFairnessHandlers(eng.reports, eng.runner, eng.reportArchive()),
		Stream:   api.NewReportStreamHandlers(eng.broadcaster, cfg.CORSAllowedOrigins),
		Jobs:     api.NewJobHandlers(eng.runner),
		Density:  api.NewDensityHandlers(eng.rotation),
		Flags:    api.NewFlagHandlers(eng.detector),
		Audit:    api.NewAuditHandlers(eng.audit, eng.exportArchive()),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, jwt)

	var limitStore middleware.RateLimitStore
	if rdb != nil {
		limitStore = middleware.NewRedisRateLimitStore(rdb).WithMetrics(httpMetrics)
	} else {
		mem := middleware.NewInMemoryRateLimitStore()
		mem.StartCleanup(ctx, 5*time.Minute)
		limitStore = mem
	}
	limiter := middleware.RateLimiter(limitStore, []middleware.RouteLimit{
		{Prefix: "/feed", Config: middleware.DefaultFeedLimit(), KeyFunc: middleware.ViewerKeyFunc()},
		{Prefix: "/views", Config: middleware.DefaultViewLimit()},
		{Prefix: "/admin/", Config: middleware.DefaultAdminLimit()},
	}, middleware.RouteLimit{
		Config: middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimitPerMinute, WindowDuration: time.Minute},
	}, httpMetrics)

	// Apply middleware: RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> RateLimit -> Idempotency
	var handler http.Handler = mux
	handler = middleware.IdempotencyKey(map[string]bool{"/views": true})(handler)
	handler = limiter(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins))(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if tracer.IsEnabled() {
		handler = middleware.Tracing("discovery-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	eng.stop()
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	logger.Info("server stopped")
}
