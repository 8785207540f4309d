// Package main API Server 入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"natours/internal/apiserver/auth"
	"natours/internal/apiserver/server"
	"natours/internal/config"
	"natours/internal/domain"
	"natours/internal/rating"
	"natours/internal/shared/infra"
	"natours/internal/shared/ratelimit"
	"natours/pkg/logging"
)

const metricsNamespace = "natours"

func main() {
	configDirFlag := flag.String("config", "", "配置文件目录")
	flag.Parse()
	if *configDirFlag != "" {
		config.SetConfigDir(*configDirFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "api-server",
	})

	logger.Info("starting API server", "env", cfg.Env, "config_file", cfg.ConfigFilePath)
	logger.Info("config loaded", "config", cfg.String())

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("API server exited")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储与 Redis
	infraCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseTimeout)
	inf, err := infra.New(infraCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("init infrastructure: %w", err)
	}
	defer func() {
		if err := inf.Close(); err != nil {
			logger.WithError(err).Warn("close infrastructure")
		}
	}()

	registry := domain.NewRegistry(inf.Storage, domain.Options{
		DefaultLimit:  cfg.Query.DefaultLimit,
		MaxLimit:      cfg.Query.MaxLimit,
		RatingMetrics: rating.NewMetrics(prometheus.DefaultRegisterer, metricsNamespace),
	}, logger)

	var limiter ratelimit.Limiter
	switch {
	case !cfg.RateLimit.Enabled:
		logger.Info("rate limiting disabled by config")
	case inf.Redis == nil:
		logger.Warn("rate limiting disabled: Redis not configured")
	default:
		limiter = ratelimit.NewRedisLimiter(inf.Redis, cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	authCfg := auth.Config{JWTSecret: cfg.Auth.JWTSecret, TokenTTL: cfg.Auth.TokenTTL}
	if !authCfg.Enabled() {
		logger.Warn("JWT_SECRET not set, authentication disabled")
	}

	h := server.NewHandler(registry, server.Options{
		Auth:       authCfg,
		Limiter:    limiter,
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIServer.Port,
		Handler:      h.Router(),
		ReadTimeout:  cfg.APIServer.ReadTimeout,
		WriteTimeout: cfg.APIServer.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 优雅关闭
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIServer.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
