package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aelexs/session-gateway/internal/config"
	"github.com/aelexs/session-gateway/internal/devbackend"
	"github.com/aelexs/session-gateway/internal/domain"
)

// setup is the devbackend composition root.
func setup(_ context.Context, cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}

	backend := devbackend.New(devbackend.Config{
		SigningKey: cfg.DevBackend.SigningKey,
		AccessTTL:  cfg.DevBackend.AccessTTL,
		RefreshTTL: cfg.DevBackend.RefreshTTL,
		Clock:      domain.RealClock{},
		Logger:     logger,
	})
	logger.Info("development backend ready",
		slog.String("demo_user", devbackend.DemoUser),
		slog.Duration("access_ttl", cfg.DevBackend.AccessTTL),
	)
	return devbackend.NewRouter(backend, logger), nil
}
