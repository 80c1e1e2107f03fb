package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/config"
	"github.com/satriahrh/voicechat/internal/api"
	"github.com/satriahrh/voicechat/internal/auth"
	"github.com/satriahrh/voicechat/internal/websocket"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg, logger)
		},
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(context.Background(), logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
	}))

	conversations := svc.conversations(cfg, logger)

	// Initialize WebSocket hub with conversation service
	hub := websocket.NewHub(conversations, svc.recognizer, svc.voice, websocket.HubConfig{
		SessionTTL:     cfg.Server.SessionTTL,
		Retention:      cfg.Server.SessionRetention,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Audio:          audioConfig(cfg),
		AudioFormat:    svc.audioFormat,
	}, logger)
	go hub.Run(ctx)

	cleanup := websocket.NewSessionCleanupService(hub, cfg.Server.CleanupInterval, logger)
	cleanup.Start()
	defer cleanup.Stop()

	// Initialize API routes
	api.InitRoutes(e, hub, conversations, issuer, logger)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Server.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return err
	}

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
