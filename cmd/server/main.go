package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/api"
	"careerpilot.app/career-chat/internal/auth"
	"careerpilot.app/career-chat/internal/cache"
	"careerpilot.app/career-chat/internal/config"
	"careerpilot.app/career-chat/internal/core"
	"careerpilot.app/career-chat/internal/logger"
	"careerpilot.app/career-chat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logr := logger.New(cfg.App.LogFilePath, cfg.App.LogLevel, cfg.IsProduction())
	defer logr.Sync()

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	dbStore, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	sharedCache, err := openCache(cfg.Redis, logr)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer sharedCache.Close()

	gemini, err := core.NewGeminiClient(context.Background(), core.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
	}, logr)
	if err != nil {
		return fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	defer gemini.Close()

	gateway := core.NewAIGateway(gemini, logr, cfg.Gemini.Timeout)
	chatService := core.NewChatService(dbStore, gateway, core.NewSessionLocker(sharedCache, core.LockTTLFor(cfg.Gemini.Timeout)), logr)
	sessionService := core.NewSessionService(dbStore, logr)
	userService := core.NewUserService(dbStore, logr)
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, sharedCache)
	limiter := api.NewRateLimiter(sharedCache, api.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.Burst,
	}, logr)

	apiHandler := api.NewAPIHandler(api.HandlerDeps{
		Chat:          chatService,
		Sessions:      sessionService,
		Users:         userService,
		Tokens:        tokens,
		Limiter:       limiter,
		Log:           logr,
		SecureCookies: cfg.IsProduction(),
	})
	router := api.NewRouter(apiHandler, api.RouterConfig{
		StaticDir:      cfg.App.StaticDir,
		AllowedOrigins: cfg.App.CorsAllowedOrigins,
	}, logr)

	srv := &http.Server{
		Addr:         ":" + cfg.App.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // model calls can take time
		IdleTimeout:  120 * time.Second,
	}
	opsRouter := api.NewOpsRouter(map[string]api.Pinger{
		"database": dbStore,
		"cache":    sharedCache,
	}, logr)
	opsSrv := &http.Server{
		Addr:         ":" + cfg.App.MetricsPort,
		Handler:      opsRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	for _, s := range []*http.Server{srv, opsSrv} {
		go func(s *http.Server) {
			logr.Info("starting server", zap.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("could not listen on %s: %w", s.Addr, err)
			}
		}(s)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logr.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := opsSrv.Shutdown(ctx); err != nil {
		logr.Warn("ops server shutdown failed", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logr.Info("server exited gracefully")
	return nil
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewGormStore(cfg.URL)
	default:
		return store.NewSQLiteStore(cfg.URL)
	}
}

// openCache uses Redis when configured so that cache-backed state is shared
// across replicas.
func openCache(cfg config.RedisConfig, logr *zap.Logger) (cache.Store, error) {
	if cfg.URL == "" {
		logr.Info("REDIS_URL not set, using in-process cache")
		return cache.NewMemory(), nil
	}
	return cache.NewRedis(cfg.URL)
}
