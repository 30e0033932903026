// Package main provides the visit API service entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drfirst/visitdesk/internal/api/handlers"
	"github.com/drfirst/visitdesk/internal/api/middleware"
	"github.com/drfirst/visitdesk/internal/config"
	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/infrastructure/redpanda"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
	"github.com/drfirst/visitdesk/internal/observability/tracing"
	"github.com/drfirst/visitdesk/internal/session"
	"github.com/drfirst/visitdesk/internal/visitview"
	"github.com/drfirst/visitdesk/pkg/circuitbreaker"
)

const serviceName = "visit-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel, cfg.IsDev())
	defer logger.Sync()

	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Tracing
	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	// Metrics
	m := metrics.New(prometheus.DefaultRegisterer)

	// Connect to database
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("invalid DATABASE_URL", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Circuit breakers
	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(to.Gauge())
	}
	breakers := circuitbreaker.NewManager(breakerCfg, logger)
	storeBreaker, err := breakers.GetOrCreate("visit-store")
	if err != nil {
		logger.Fatal("failed to create circuit breaker", zap.Error(err))
	}

	// Notifications
	var notifier visitview.Notifier
	if cfg.NotificationsEnabled {
		admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.Fatal("failed to create redpanda admin", zap.Error(err))
		}
		if err := admin.EnsureTopics(ctx); err != nil {
			logger.Warn("could not ensure notification topics", zap.Error(err))
		}
		admin.Close()

		pcfg := redpanda.DefaultProducerConfig()
		pcfg.Brokers = cfg.KafkaBrokers
		producer, err := redpanda.NewProducer(pcfg, logger)
		if err != nil {
			logger.Fatal("failed to create redpanda producer", zap.Error(err))
		}
		defer func() {
			stats := producer.Stats()
			logger.Info("notification producer closed",
				zap.Int64("sent", stats.MessagesSent),
				zap.Int64("errors", stats.ErrorCount))
			producer.Close()
		}()
		notifier = redpanda.NewNotificationPublisher(producer, m, logger)
	}

	verifier, err := session.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("failed to create session verifier", zap.Error(err))
	}

	// Initialize repositories and handlers
	visitRepo := visit.NewRepository(pool, logger)
	visitHandler := handlers.NewVisitHandler(visitRepo, logger)
	viewHandler := handlers.NewViewHandler(handlers.StoreSource(visitRepo, storeBreaker), handlers.ViewConfig{
		FetchTimeout: cfg.FetchTimeout,
		WaitTimeout:  cfg.ViewWaitTimeout,
		Notifier:     notifier,
		Metrics:      m,
	}, logger)
	healthHandler := handlers.NewHealthHandler(serviceName, pool, breakers)
	if cfg.NotificationsEnabled {
		healthHandler.AddCheck("redpanda", func(ctx context.Context) error {
			return redpanda.HealthCheck(ctx, cfg.KafkaBrokers)
		})
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	// Health checks and metrics (no auth)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SessionAuth(verifier, logger))
		r.Mount("/visits", visitHandler.Routes())
		r.Mount("/views/visits", viewHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ViewWaitTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting visit API", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string, dev bool) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if dev {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
