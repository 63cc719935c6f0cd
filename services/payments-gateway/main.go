package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/readone97/Sol-Kart/config"
	gwconfig "github.com/readone97/Sol-Kart/gateway/config"
	"github.com/readone97/Sol-Kart/gateway/middleware"
	"github.com/readone97/Sol-Kart/gateway/routes"
	"github.com/readone97/Sol-Kart/native/payrequest"
	"github.com/readone97/Sol-Kart/observability"
	"github.com/readone97/Sol-Kart/observability/logging"
	telemetry "github.com/readone97/Sol-Kart/observability/otel"
	"github.com/readone97/Sol-Kart/storage"
)

const (
	serviceName     = "payments-gateway"
	shutdownTimeout = 10 * time.Second
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envEnvironment))
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logging.Setup(serviceName, env).Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    serviceName,
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if err := run(cfg, env, logger); err != nil {
		logger.Error("payments gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg gwconfig.Config, env string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv(serviceName, env))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	endpoint, err := cfg.SettlementURL(env)
	if err != nil {
		return err
	}
	merchant, err := config.LoadMerchant(cfg.MerchantProfile)
	if err != nil {
		return fmt.Errorf("load merchant profile: %w", err)
	}

	intents, closeIntents, err := openIntentStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeIntents()

	receipts, closeReceipts, err := openReceipts(cfg.ReceiptsPath)
	if err != nil {
		return err
	}
	defer closeReceipts()

	var audit *SQLiteStore
	if strings.TrimSpace(cfg.AuditDB) != "" {
		audit, err = NewSQLiteStore(cfg.AuditDB)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer audit.Close()
	}

	registry := payrequest.NewRegistry(intents,
		payrequest.WithTTL(cfg.Intents.TTL),
		payrequest.WithMaxCreateAttempts(cfg.Intents.MaxCreateAttempts),
	)
	verifier := payrequest.NewVerifier(registry,
		NewSolanaSettlement(endpoint.String(), cfg.Settlement.Commitment),
		payrequest.WithTimeout(cfg.Settlement.Timeout),
		payrequest.WithReceipts(receipts),
		payrequest.WithLogger(logger.With(slog.String("component", "verifier"))),
	)
	metrics := observability.Payments()
	server := NewServer(registry, verifier, merchant,
		WithAuditStore(audit),
		WithReceiptHistory(receipts),
		WithMetrics(metrics),
		WithServerLogger(logger),
		WithEvents(cfg.Events.PollInterval, cfg.Events.OriginPatterns),
	)

	rateLimits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{RatePerSecond: entry.PerSecond(), Burst: entry.Burst}
	}
	limiter := middleware.NewRateLimiter(rateLimits, logger)

	router, err := routes.New(routes.Config{
		API: server,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: limiter,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", headerIdempotencyKey},
		},
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}
	handler := http.Handler(router)
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, serviceName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := &janitor{
		registry: registry,
		store:    audit,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		interval: cfg.Intents.SweepInterval,
		nowFn:    time.Now,
	}
	go sweeper.run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("payments gateway listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("recipient", merchant.Recipient),
			slog.String("store", cfg.Store.Driver))
		var serveErr error
		if cfg.Security.TLSCertFile != "" {
			serveErr = srv.ListenAndServeTLS(cfg.Security.TLSCertFile, cfg.Security.TLSKeyFile)
		} else {
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down payments gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

func openIntentStore(cfg gwconfig.StoreConfig) (payrequest.Store, func(), error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == gwconfig.StoreMemory {
		return payrequest.NewMemoryStore(), func() {}, nil
	}
	db, err := storage.Open(driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open intent store: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return storage.NewGormIntentStore(db), closeFn, nil
}

// receiptStore is what the gateway needs from a receipt backend.
type receiptStore interface {
	payrequest.Receipts
	ReceiptHistory
}

func openReceipts(path string) (receiptStore, func(), error) {
	if strings.TrimSpace(path) == "" {
		return storage.NewMemoryReceipts(), func() {}, nil
	}
	ledger, err := storage.OpenReceiptLedger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open receipt ledger: %w", err)
	}
	return ledger, func() { _ = ledger.Close() }, nil
}
