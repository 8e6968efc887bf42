package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reqgateway/gateway/internal/bus"
	"github.com/reqgateway/gateway/internal/cancellation"
	"github.com/reqgateway/gateway/internal/config"
	"github.com/reqgateway/gateway/internal/correlation"
	"github.com/reqgateway/gateway/internal/database"
	apihandler "github.com/reqgateway/gateway/internal/http"
	"github.com/reqgateway/gateway/internal/http/handlers"
	"github.com/reqgateway/gateway/internal/listener"
	"github.com/reqgateway/gateway/internal/locks"
	"github.com/reqgateway/gateway/internal/logging"
	"github.com/reqgateway/gateway/internal/observability"
	"github.com/reqgateway/gateway/internal/orchestrator"
	redisinit "github.com/reqgateway/gateway/internal/redis"
	"github.com/reqgateway/gateway/internal/recovery"
	"github.com/reqgateway/gateway/internal/requestlog"
	sentryinit "github.com/reqgateway/gateway/internal/sentry"
	"github.com/reqgateway/gateway/internal/sweeper"
	"github.com/reqgateway/gateway/migrations"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, path := range []string{"api/.env", ".env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config load: %v", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.Log.Level)
	logger.Info("starting gateway", slog.String("env", cfg.AppEnv))

	sentryHandler, err := sentryinit.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.Release)
	if err != nil {
		logger.Error("sentry init failed", slog.String("error", err.Error()))
	}

	if sentryinit.Enabled() {
		hostname, _ := os.Hostname()
		tags := map[string]string{
			"environment": cfg.Sentry.Environment,
			"app_env":     cfg.AppEnv,
		}
		extras := map[string]any{
			"hostname":             hostname,
			"http_addr":            cfg.HTTP.Addr,
			"prometheus_namespace": cfg.Prometheus.Namespace,
		}
		sentryinit.CaptureLifecycleEvent("startup", tags, extras)
		defer func() {
			sentryinit.CaptureLifecycleEvent("shutdown", tags, extras)
			sentryinit.Flush(5 * time.Second)
		}()
	}

	metrics := observability.NewMetrics(cfg.Prometheus.Namespace, prometheus.DefaultRegisterer)

	if err := database.EnsureDatabaseExists(ctx, cfg.Postgres.DSN, logger); err != nil {
		logger.Error("ensure database exists", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pgPool, err := database.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		logger.Error("postgres connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := migrations.Apply(ctx, pgPool, logger); err != nil {
		logger.Error("apply migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redisClient := redisinit.NewClient(redisinit.Config{
		Addr:       cfg.Redis.Addr,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	defer redisClient.Close()

	natsMetrics := bus.NewNATSMetrics(cfg.Prometheus.Namespace, prometheus.DefaultRegisterer)
	busCfg := bus.Config{
		URL:            cfg.Bus.URL,
		ConnectTimeout: 10 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		PublishTimeout: 5 * time.Second,
		DrainTimeout:   30 * time.Second,
		StreamName:     cfg.Bus.StreamName,
		StreamSubjects: cfg.Bus.StreamSubjects,
		FetchBatchSize: cfg.Bus.FetchBatchSize,
		FetchMaxWait:   cfg.Bus.FetchMaxWait,
	}
	busClient := bus.NewClient(busCfg, logger, natsMetrics)
	if err := busClient.Connect(ctx); err != nil {
		logger.Error("bus connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		logger.Info("draining bus connection")
		if err := busClient.Drain(busCfg.DrainTimeout); err != nil {
			logger.Warn("bus drain error", slog.String("error", err.Error()))
		}
	}()

	if err := bus.EnsureGatewayStream(ctx, busClient.JetStream(), busCfg, logger); err != nil {
		logger.Error("ensure gateway stream", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := requestlog.NewPostgresStore(pgPool)
	cancelSet := cancellation.NewSet(redisClient, time.Duration(cfg.Cancellation.TTLSeconds)*time.Second)

	seqCounter := time.Now().UnixNano()
	seq := func() int64 {
		return atomic.AddInt64(&seqCounter, 1)
	}
	correlator := correlation.New(store, cancelSet, logger, metrics, seq)

	listenerManager := listener.NewManager(listener.Config{
		JetStream:  busClient.JetStream(),
		StreamName: cfg.Bus.StreamName,
		Correlator: correlator,
		Backoff: listener.BackoffConfig{
			Initial:    cfg.Consumer.BackoffInitial,
			Multiplier: cfg.Consumer.BackoffMultiplier,
			Max:        cfg.Consumer.BackoffMax,
		},
		BatchSize:    cfg.Consumer.BatchSize,
		MaxWait:      cfg.Consumer.MaxWait,
		PollInterval: cfg.Consumer.PollInterval,
		Logger:       logger,
		Metrics:      metrics,
	})

	orch := orchestrator.New(store, listenerManager, busClient, logger, metrics)

	var lockManager locks.Manager
	switch cfg.Recovery.LockBackend {
	case "redis":
		lockManager = locks.NewRedisManager(redisClient)
	default:
		lockManager = locks.NewPostgresManager(pgPool)
	}
	cbLockManager := locks.NewCircuitBreakerManager(lockManager, locks.DefaultCircuitBreakerConfig())
	cbLockManager.OnStateChange(func(old, new locks.CircuitState) {
		logger.Warn("lock manager circuit breaker state changed",
			slog.String("old_state", old.String()),
			slog.String("new_state", new.String()))
	})
	cbLockManager.SetMetrics(locks.CircuitBreakerMetricsCallbacks{
		LockSuccess:  func() { metrics.LockAcquisitions.WithLabelValues("success").Inc() },
		LockFailure:  func() { metrics.LockAcquisitions.WithLabelValues("failure").Inc() },
		CircuitState: func(state float64) { metrics.CircuitBreakerState.Set(state) },
		ReacquireAttempt: func(instanceID, result string) {
			metrics.LockReacquisitionAttempts.WithLabelValues(instanceID, result).Inc()
		},
		ReacquireFallback: func(instanceID, circuitState string) {
			metrics.LockReacquisitionFallbacks.WithLabelValues(instanceID, circuitState).Inc()
		},
	})
	defer cbLockManager.StopHealthCheck()

	recoveryService := recovery.New(store, listenerManager, cbLockManager, recovery.Config{
		LockTTLSeconds: cfg.Recovery.LockTTLSeconds,
	}, logger)
	if err := recoveryService.Recover(ctx); err != nil {
		logger.Error("startup recovery failed", slog.String("error", err.Error()))
	}

	timeoutSweeper := sweeper.New(store, cancelSet, sweeper.Config{
		Interval:       time.Duration(cfg.Timeout.SweepRateMillis) * time.Millisecond,
		DefaultTimeout: time.Duration(cfg.Timeout.DefaultSeconds) * time.Second,
		BatchLimit:     sweeper.DefaultConfig().BatchLimit,
	}, logger, metrics)
	go timeoutSweeper.Run(ctx)

	healthHandler := handlers.NewHealthHandler(pgPool, cbLockManager)
	healthHandler.SetBusClient(busClient)
	healthHandler.SetMetrics(func(component, status string) {
		metrics.HealthChecks.WithLabelValues(component, status).Inc()
	})

	requestsHandler := handlers.NewRequestsHandler(orch, store, cancelSet, logger)

	router := apihandler.NewRouter(apihandler.RouterDeps{
		Logger:          logger,
		Metrics:         metrics,
		SentryHandler:   sentryHandler,
		HealthHandler:   healthHandler,
		RequestsHandler: requestsHandler,
		PartnerToken:    cfg.Partner.AuthToken,
	})

	server := apihandler.NewServer(
		router,
		cfg.HTTP.Addr,
		cfg.HTTP.ReadHeaderTimeout,
		cfg.HTTP.ReadTimeout,
		cfg.HTTP.WriteTimeout,
		cfg.HTTP.IdleTimeout,
		cfg.HTTP.MaxHeaderBytes,
		logger,
	)

	if err := server.Run(ctx); err != nil {
		logger.Error("http server stopped", slog.String("error", err.Error()))
	}

	logger.Info("starting graceful shutdown sequence")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Shutdown.GraceMillis)*time.Millisecond)
	listenerManager.StopAll(stopCtx)
	stopCancel()

	if cfg.Sentry.DSN != "" {
		logger.Info("flushing sentry events")
		sentry.Flush(5 * time.Second)
	}

	logger.Info("shutdown complete")
}
