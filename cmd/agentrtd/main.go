package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stuxnet147/codex-agent-protocol/internal/common/config"
	"github.com/stuxnet147/codex-agent-protocol/internal/common/logger"
	"github.com/stuxnet147/codex-agent-protocol/internal/telemetry"
	"github.com/stuxnet147/codex-agent-protocol/pkg/runtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agent runtime daemon...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := runtime.New(cfg, log)
	if err != nil {
		log.Error("Failed to build runtime", zap.Error(err))
		os.Exit(1)
	}

	go rt.Start(ctx)
	log.Info("Backend process supervision started",
		zap.String("strategy", cfg.Backend.Strategy))

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"backendStatus": rt.Backend.Status(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.Metrics, promhttp.HandlerOpts{})))
	router.GET("/agents", func(c *gin.Context) {
		c.JSON(http.StatusOK, rt.Registry.List())
	})

	wsSink := telemetry.NewWebsocketSink(log)
	rt.Telemetry.AddSink(wsSink)
	router.GET("/telemetry/stream", gin.WrapH(wsSink))

	port := cfg.Server.Port
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agent runtime daemon...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := rt.Stop(); err != nil {
		log.Error("Runtime shutdown error", zap.Error(err))
	}

	log.Info("Agent runtime daemon stopped")
}
