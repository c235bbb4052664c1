// Package main запускает HTTP-сервер сервиса photocredit.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/photocredit/internal/cache"
	"github.com/mmeshcher/photocredit/internal/config"
	"github.com/mmeshcher/photocredit/internal/gateway"
	"github.com/mmeshcher/photocredit/internal/handler"
	"github.com/mmeshcher/photocredit/internal/logger"
	"github.com/mmeshcher/photocredit/internal/metrics"
	"github.com/mmeshcher/photocredit/internal/middleware"
	"github.com/mmeshcher/photocredit/internal/repository"
	"github.com/mmeshcher/photocredit/internal/service"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sugar := log.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	gw := gateway.NewClient(cfg.PaymentAPIURL, cfg.PaymentSecretKey, log, gateway.WithObserver(collector))
	if !gw.Configured() {
		sugar.Warn("payment secret key is not set, billing endpoints will report a configuration error")
	}

	var offersCache cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.AppName+":")
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		offersCache = redisCache
	}

	svc := service.NewService(repo, gw, service.Options{
		AppName:    cfg.AppName,
		AppBaseURL: cfg.AppBaseURL,
		Cache:      offersCache,
		CacheTTL:   cfg.CatalogCacheTTL,
		Metrics:    collector,
		Logger:     log,
	})
	defer svc.Close()

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, sessions will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, strings.HasPrefix(cfg.AppBaseURL, "https://"))

	h := handler.NewHandler(svc, log, authMiddleware, handler.Options{
		WebhookSecret:   cfg.PaymentWebhookSecret,
		Metrics:         metrics.Handler(registry),
		CheckoutLimiter: middleware.NewRateLimiter(10, 5, log),
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting photocredit server", "addr", cfg.RunAddress, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
