// Command subsync serves the billing webhook endpoint, the operator API and
// the optional periodic sweep.
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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/subsync/pkg/api"
	"github.com/mihaimyh/subsync/pkg/billing"
	zerologadapter "github.com/mihaimyh/subsync/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/subsync/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/subsync/pkg/billing/stripe"
	"github.com/mihaimyh/subsync/pkg/config"
	"github.com/mihaimyh/subsync/pkg/reconcile"
)

const (
	shutdownTimeout         = 15 * time.Second
	breakerFailureThreshold = 5
	breakerResetTimeout     = 30 * time.Second
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		zlog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}

	zlog := newZerolog(cfg)
	if err := run(cfg, &zlog); err != nil {
		zlog.Fatal().Err(err).Msg("subsync stopped")
	}
}

func newZerolog(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var zlog zerolog.Logger
	if cfg.LogFormat == "console" {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zlog = zerolog.New(os.Stdout)
	}
	return zlog.Level(level).With().Timestamp().Str("service", "subsync").Logger()
}

func run(cfg *config.Config, zlog *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerologadapter.NewLogger(zlog)
	metrics := prommetrics.DefaultMetrics(cfg.MetricsNamespace)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := stripe.NewClient(billing.Config{
		APIKey:     cfg.StripeAPIKey,
		HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	breaker := billing.NewDefaultCircuitBreaker(breakerFailureThreshold, breakerResetTimeout,
		func(state billing.CircuitBreakerState) {
			logger.Warn("stripe circuit breaker state changed", billing.F("state", string(state)))
		})

	reconciler, err := reconcile.New(reconcile.Config{
		Client:            billing.NewGuardedClient(client, breaker),
		Store:             store,
		ProviderTimeout:   cfg.ProviderTimeout,
		StoreTimeout:      cfg.StoreTimeout,
		InstrumentTimeout: cfg.InstrumentTimeout,
		Provider:          "stripe",
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return err
	}

	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			WebhookSecret:      cfg.StripeWebhookSecret,
			SignatureTolerance: cfg.WebhookTolerance,
			Metrics:            metrics,
			Logger:             logger,
		},
		Reconciler:        reconciler,
		RateLimitRequests: cfg.WebhookRateLimit,
		RateLimitWindow:   cfg.WebhookRateWindow,
	})
	if err != nil {
		return err
	}

	operator, err := api.NewHandler(api.Config{
		Store:         store,
		Resyncer:      reconciler,
		OperatorToken: cfg.OperatorToken,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/webhooks/billing", provider.WebhookHandler())
	r.Mount("/billing/accounts", operator.Routes())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthz(store))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.SweepInterval > 0 {
		go runSweeps(ctx, reconciler, cfg.SweepInterval, cfg.SweepConcurrency, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", billing.F("addr", cfg.HTTPAddr), billing.F("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runSweeps reconciles every known customer each interval until ctx ends.
func runSweeps(ctx context.Context, r *reconcile.Reconciler, interval time.Duration, concurrency int, logger billing.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, concurrency); err != nil {
				logger.Error("sweep failed", billing.F("error", err))
			}
		}
	}
}

func healthz(store *closableStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
