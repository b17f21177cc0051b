package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetry-platform/internal/cache"
	"telemetry-platform/internal/config"
	"telemetry-platform/internal/handlers"
	"telemetry-platform/internal/models"
	"telemetry-platform/internal/services"
	"telemetry-platform/pkg/logging"
	"telemetry-platform/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("telemetry-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting telemetry platform API server", logging.Fields{
		"version":          "1.0.0",
		"server_host":      cfg.Server.Host,
		"server_port":      cfg.Server.Port,
		"default_timezone": cfg.Pipeline.DefaultTimezone,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("telemetry_platform", prometheus.DefaultRegisterer)

	// Initialize pipeline
	tableCache := cache.NewTableCache(cfg.Pipeline.CacheEntries)
	normalizer := services.NewNormalizerService(logger, metricsCollector)
	deriver := services.NewDeriverService(logger, metricsCollector)
	telemetryService := services.NewTelemetryService(normalizer, deriver, tableCache, logger, metricsCollector)

	// Initialize handlers
	defaults := models.DeriveOptions{
		Timezone:        cfg.Pipeline.DefaultTimezone,
		SmoothingWindow: cfg.Pipeline.DefaultSmoothingWindow,
	}
	telemetryHandler := handlers.NewTelemetryHandler(
		telemetryService, defaults, cfg.Server.MaxUploadBytes, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	router.Use(handlers.RequestIDMiddleware(logger))

	// Register routes
	telemetryHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
