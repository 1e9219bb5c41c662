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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/syncpad/syncpad/internal/api"
	"github.com/syncpad/syncpad/internal/chat"
	"github.com/syncpad/syncpad/internal/config"
	"github.com/syncpad/syncpad/internal/db"
	"github.com/syncpad/syncpad/internal/feed"
	"github.com/syncpad/syncpad/internal/middleware"
	"github.com/syncpad/syncpad/internal/observ"
	"github.com/syncpad/syncpad/internal/presence"
	"github.com/syncpad/syncpad/internal/repository/postgres"
	"github.com/syncpad/syncpad/internal/session"
	"github.com/syncpad/syncpad/internal/suggest"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Startup has no request deadline — "take as long as you need to
	// connect" — but it does honor Ctrl-C via the signal context.
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	pool := database.Pool()
	sessionRepo := postgres.NewSessionStore(pool)
	chatRepo := postgres.NewChatStore(pool)
	codeRepo := postgres.NewCodeStore(pool)

	broker := feed.NewBroker(observ.Named(logger, "feed"))

	// Redis is the cross-instance bridge; a single instance runs fine
	// without it, so a missing/unreachable REDIS_URL downgrades rather
	// than aborts.
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis URL: %w", err)
		}
		bridge := feed.NewRedisBridge(redis.NewClient(redisOpts), observ.Named(logger, "feed.redis"))
		go func() {
			if err := broker.AttachRedis(ctx, bridge); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("redis bridge stopped, running single-instance", zap.Error(err))
			}
		}()
	}

	locks := session.NewLocks()
	store := session.NewStore(sessionRepo, codeRepo, broker, locks, observ.Named(logger, "session"))
	pres := presence.NewManager(store, observ.Named(logger, "presence"))
	chatLog := chat.NewLog(chatRepo, broker, locks, observ.Named(logger, "chat"))
	suggestClient := suggest.NewClient(cfg.SuggestURL)

	identityHandler := api.NewIdentityHandler(cfg.JWTSecret, cfg.CoalesceInterval, logger)
	sessionHandler := api.NewSessionHandler(store, pres, logger)
	chatHandler := api.NewChatHandler(chatLog, logger)
	feedHandler := api.NewFeedHandler(store, broker, logger)
	suggestHandler := api.NewSuggestHandler(suggestClient, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery())

	// Public: load balancers health-check here, and identity is the door —
	// it can't require the token it issues.
	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv.POST("/v1/identity", identityHandler.Create)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.POST("/sessions", sessionHandler.Create)
	v1.POST("/sessions/join", sessionHandler.Join)
	v1.GET("/sessions/:id", sessionHandler.Get)
	v1.POST("/sessions/:id/leave", sessionHandler.Leave)
	v1.PUT("/sessions/:id/document", sessionHandler.WriteDocument)
	v1.POST("/sessions/:id/messages", chatHandler.Append)
	v1.GET("/sessions/:id/messages", chatHandler.List)
	v1.GET("/sessions/:id/feed", feedHandler.Subscribe)
	v1.POST("/suggest", suggestHandler.Suggest)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	logger.Info("starting syncpad",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Duration("coalesce_interval", cfg.CoalesceInterval),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
