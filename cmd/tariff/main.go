package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tariff/pkg/api"
	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/config"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/pricing"
	"github.com/platinummonkey/tariff/pkg/ratelimit"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "tariff")
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tariff exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pricing.SetLogger(logger.WithField("component", "pricing"))

	otelCfg := cfg.Observability.OTel()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var otelMetrics *observability.OTelMetrics
	if otelCfg.Enabled {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
	}

	checker := observability.NewHealthChecker(version)
	deps := &dependencies{cfg: cfg, logger: logger, metrics: metrics, checker: checker}
	defer deps.close()

	lookup, err := deps.priceLookup(ctx)
	if err != nil {
		return err
	}
	store, err := deps.resultStore(ctx)
	if err != nil {
		return err
	}
	gateway, err := deps.gateway()
	if err != nil {
		return err
	}

	signer, err := deps.descriptorSigner()
	if err != nil {
		return err
	}

	planner := billing.NewPlanner(lookup, billing.PlannerConfig{
		Signer:      signer,
		Logger:      logger.WithField("component", "planner"),
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
	})
	committer := billing.NewCommitter(gateway, store, billing.CommitterConfig{
		Timeout:          cfg.Billing.CommitTimeout,
		LateOutcomeLimit: cfg.Billing.LateOutcomeLimit,
		Signer:           signer,
		Logger:           logger.WithField("component", "committer"),
		Metrics:          metrics,
		OTelMetrics:      otelMetrics,
	})

	apiServer, err := api.NewServer(api.Options{
		Lookup:         lookup,
		Planner:        planner,
		Committer:      committer,
		Logger:         logger.WithField("component", "api"),
		Metrics:        metrics,
		MaxBatchQuotes: cfg.Server.MaxBatchQuotes,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	var handler http.Handler = apiServer
	if cfg.Server.RateLimitEnabled {
		limiter, commits, err := deps.rateLimiters(ctx)
		if err != nil {
			return err
		}
		handler = ratelimit.Middleware(limiter, ratelimit.Options{
			Logger:  logger.WithField("component", "ratelimit"),
			Metrics: metrics,
			Commits: commits,
		})(handler)
	}
	if otelCfg.Enabled {
		handler = otelhttp.NewHandler(handler, "tariff")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.Register("health server", healthServer.Shutdown)
	deps.registerShutdown(shutdown)

	serveErr := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		logger.WithFields(map[string]interface{}{"server": name, "addr": srv.Addr}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("api", server)
	go serve("health", healthServer)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.WithError(err).Error("Server failed, shutting down")
		stop()
		if shutdownErr := shutdown.Shutdown(); shutdownErr != nil {
			logger.WithError(shutdownErr).Error("Shutdown incomplete")
		}
		return err
	}

	if err := shutdown.Shutdown(); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	logger.Info("tariff stopped")
	return nil
}
