package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kevin07696/cashier-settlement/internal/app"
	"github.com/kevin07696/cashier-settlement/internal/config"
	cronHandler "github.com/kevin07696/cashier-settlement/internal/handlers/cron"
	dispatchHandler "github.com/kevin07696/cashier-settlement/internal/handlers/dispatch"
	"github.com/kevin07696/cashier-settlement/pkg/middleware"
	"github.com/kevin07696/cashier-settlement/pkg/observability"
	"github.com/kevin07696/cashier-settlement/pkg/resilience"
	"github.com/kevin07696/cashier-settlement/pkg/shutdown"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second
	poolMonitorTick = time.Minute
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting cashier settlement service",
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
	)

	ctx := context.Background()
	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize settlement core", zap.Error(err))
	}

	// Shutdown runs in reverse registration order: HTTP stops first, then
	// in-flight ingestions drain, then background loops and polling stop,
	// and the ledger closes last
	manager := shutdown.NewManager(logger, shutdownTimeout)
	manager.RegisterCloser("secrets", closerFunc(core.CloseSecrets))
	manager.RegisterCloser("database", core.DB)

	core.Scheduler.Start()
	manager.Register("polling_scheduler", core.Scheduler.Shutdown)

	tracker := shutdown.NewBackgroundWorker("goroutine_tracker", logger)
	tracker.Start(core.Tracker.StartMonitoring)
	manager.Register("goroutine_tracker", tracker.Shutdown)

	poolMonitor := shutdown.NewBackgroundWorker("db_pool_monitor", logger)
	poolMonitor.Start(func(ctx context.Context) {
		core.DB.StartPoolMonitoring(ctx, poolMonitorTick)
		<-ctx.Done()
	})
	manager.Register("db_pool_monitor", poolMonitor.Shutdown)

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, middleware.RemoteHost, logger)
	manager.Register("rate_limiter", func(context.Context) error {
		rateLimiter.Shutdown()
		return nil
	})

	inflight := shutdown.NewInFlightTracker("statement_ingestion", logger)
	manager.Register("statement_ingestion", inflight.Shutdown)

	timeouts := resilience.DefaultTimeoutConfig()
	dispatch := dispatchHandler.NewHandler(core.Settlement, core.Dispatcher, core.Ingestor, timeouts, cfg.Gateway.ChannelCode, logger)
	statements := cronHandler.NewStatementHandler(core.Ingestor, inflight, timeouts, logger, cfg.Server.CronSecret)
	if cfg.Server.CronSecret == "" {
		logger.Warn("CRON_SECRET is not set - /cron endpoints reject every request")
	}

	router := newRouter(dispatch, statements, rateLimiter, cfg.IsProduction())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      timeouts.HTTPHandler + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	healthChecker := observability.NewHealthChecker().
		Critical("ledger", core.DB.PingContext).
		Degrading("gateway", core.Failover.Reachable)
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)
	manager.RegisterHTTPServer("metrics_server", metricsServer)

	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
			zap.Int("metrics_port", cfg.Server.MetricsPort),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()
	manager.RegisterHTTPServer("http_server", httpServer)

	if err := manager.WaitForShutdown(ctx); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Cashier settlement service stopped")
}

func newRouter(dispatch *dispatchHandler.Handler, statements *cronHandler.StatementHandler, rateLimiter *middleware.RateLimiter, production bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders(production))
	r.Use(observability.HTTPMiddleware)

	r.Group(func(r chi.Router) {
		r.Use(rateLimiter.Middleware)
		dispatch.Routes(r)
	})

	r.Post("/cron/ingest-statement", statements.IngestStatement)
	return r
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
