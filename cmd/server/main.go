package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-paper/internal/config"
	"github.com/ksred/klear-paper/internal/logging"
)

// main loads configuration, wires the ledger service and serves the API
// until SIGINT or SIGTERM, then drains requests and background workers.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(logging.OptionsFromConfig(cfg))
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(cfg, time.Now)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: a.router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Str("env", cfg.Env).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancel()
	a.stop()
	zlog.Info().Msg("Server exiting")
}
