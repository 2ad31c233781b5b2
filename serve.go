package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"personachat/internal/api"
	"personachat/internal/chatapi"
	"personachat/internal/config"
	"personachat/internal/csrf"
	"personachat/internal/profile"
	"personachat/internal/redis"
	"personachat/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context) error {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache *profile.Cache
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		cache = profile.NewCache(rdb, cfg.Profile.CacheTTL, logger)
	} else {
		logger.Info("redis not configured, using in-process profile cache only")
	}

	client := chatapi.NewClient(cfg.ChatAPI.Endpoint, cfg.ChatAPI.Timeout, chatapi.WithLogger(logger))
	loader := profile.NewLoader(client, cache, cfg.Profile.CacheTTL, logger)
	if err := loader.Start(ctx); err != nil {
		return fmt.Errorf("start profile invalidation listener: %w", err)
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.Dispatcher.MinWorkers,
		MaxWorkers:        cfg.Dispatcher.MaxWorkers,
		QueueSize:         cfg.Dispatcher.QueueSize,
		WorkerIdleTimeout: cfg.Dispatcher.WorkerIdleTimeout,
	}, client, logger)
	defer dispatcher.Stop()

	views := worker.NewManager(dispatcher, worker.ManagerConfig{
		IdleTTL:         cfg.Views.IdleTTL,
		MaxViews:        cfg.Views.MaxViews,
		ScrollThreshold: cfg.Views.ScrollThreshold,
		OnInvalidIdentity: func(characterID string) {
			loader.Invalidate(context.Background(), characterID)
		},
	}, logger)
	defer views.Stop()

	guard := csrf.New(cfg.Server.Mode == gin.ReleaseMode)
	limiter := rate.NewLimiter(rate.Limit(cfg.Views.OpenRate), cfg.Views.OpenBurst)

	handlers, err := api.NewHandler(loader, views, guard, limiter, logger)
	if err != nil {
		return err
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger))
	handlers.RegisterRoutes(router)

	var handler http.Handler = router
	if len(cfg.Server.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders:   []string{"Content-Type", guard.HeaderName()},
			AllowCredentials: true,
		}).Handler(router)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Address, "mode", cfg.Server.Mode, "chat_api", cfg.ChatAPI.Endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Server.Mode == gin.ReleaseMode {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
