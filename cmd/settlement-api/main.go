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
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/app"
	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/config"
	"deferred-estate/settlement-backend/internal/contracts"
	"deferred-estate/settlement-backend/internal/documents"
	"deferred-estate/settlement-backend/internal/liquidity"
	"deferred-estate/settlement-backend/internal/marketplace"
	"deferred-estate/settlement-backend/internal/metrics"
	"deferred-estate/settlement-backend/internal/rewards"
	"deferred-estate/settlement-backend/internal/settings"
	"deferred-estate/settlement-backend/pkg/security"
)

func main() {
	if err := newCommand().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.App {
	return &cli.App{
		Name:  "settlement-api",
		Usage: "serve the settlement HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		return cli.Exit("JWT_SECRET is required", 1)
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	a, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("Failed to initialise services", zap.Error(err))
		return err
	}
	defer a.Close()

	router := newRouter(a)

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		logger.Error("Server failed", zap.Error(err))
		return err
	}
	logger.Info("Shutting down server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
	return nil
}

func newRouter(a *app.App) *gin.Engine {
	if !a.Config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.Logger), metrics.HTTPMiddleware(a.Registry), cors())

	tokens := auth.NewTokenManager(a.Config.Security.JWTSecret, a.Config.Security.JWTIssuer, a.Config.Security.TokenTTL)
	validator := security.NewValidator()

	authHandler := auth.NewHandler(a.Auth, tokens, validator, a.Logger)
	settingsHandler := settings.NewHandler(a.Settings, a.Logger)
	contractsHandler := contracts.NewHandler(a.Contracts, validator, a.Logger)
	documentsHandler := documents.NewHandler(a.Documents, a.Logger)
	marketplaceHandler := marketplace.NewHandler(a.Marketplace, a.Logger)
	rewardsHandler := rewards.NewHandler(a.Rewards, a.Logger)
	liquidityHandler := liquidity.NewHandler(a.Liquidity, a.Logger)

	public := router.Group("/api/v1", auth.OptionalMiddleware(tokens))
	{
		authHandler.RegisterPublicRoutes(public)
		settingsHandler.RegisterPublicRoutes(public)
		contractsHandler.RegisterPublicRoutes(public)
		documentsHandler.RegisterPublicRoutes(public)
		marketplaceHandler.RegisterPublicRoutes(public)
		a.Hub.RegisterRoutes(public)
	}

	protected := router.Group("/api/v1", auth.Middleware(tokens, a.Logger))
	{
		authHandler.RegisterRoutes(protected)
		settingsHandler.RegisterRoutes(protected)
		contractsHandler.RegisterRoutes(protected)
		documentsHandler.RegisterRoutes(protected)
		marketplaceHandler.RegisterRoutes(protected)
		rewardsHandler.RegisterRoutes(protected)
		liquidityHandler.RegisterRoutes(protected)
	}

	router.GET("/metrics", metrics.Handler(a.Registry))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"subscribers": a.Hub.ConnectionCount(),
		})
	})
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if caller, ok := auth.CallerFromContext(c); ok {
			fields = append(fields, zap.String("caller", caller))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("Request failed", fields...)
			return
		}
		logger.Debug("Request served", fields...)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
