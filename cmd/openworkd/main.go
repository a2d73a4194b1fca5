// Package main is the entry point for openworkd.
// The daemon owns the jarvis runtime install lifecycle, supervises one
// runtime process per deployment, and exposes WebSocket and HTTP endpoints.
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
	"go.uber.org/zap"

	// Common packages
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/httpmw"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"

	// Persistence
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/store"

	// Event bus
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events"

	// WebSocket gateway
	gateways "github.com/Gabriel0110/openwork-jarvis-sub000/internal/gateway/websocket"

	// Deployment control plane
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment"
	deployhandlers "github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/handlers"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/install"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/manifest"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/tracing"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting openworkd...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	if provided.NATS != nil {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}
	eventBus := provided.Bus

	// 5. Open the deployment database
	pool, err := db.Open(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatal("Failed to ping database", zap.Error(err))
	}
	pingCancel()
	log.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	// ============================================
	// DEPLOYMENT CONTROL PLANE
	// ============================================
	repo, err := store.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize deployment store", zap.Error(err))
	}

	registry, err := policy.LoadCatalog(cfg.Policy.CatalogPath, log)
	if err != nil {
		log.Fatal("Failed to load capability catalog", zap.Error(err))
	}

	releases := manifest.Load(cfg.Runtime.ManifestPath, log)
	installer := install.New(&cfg.Runtime, repo, releases, log)
	manager := deployment.New(cfg, repo, installer, registry, eventBus, log)
	log.Info("Deployment manager initialized")

	// ============================================
	// WEBSOCKET GATEWAY
	// ============================================
	gateway := gateways.NewGateway(log)
	go gateway.Hub.Run(ctx)

	// Bridge bus events (deployment catalog, runtime output, install activity)
	// to connected WebSocket clients.
	gateways.RegisterDeploymentNotifications(ctx, eventBus, gateway.Hub, log)

	// Settle stale rows and resume deployments that want to be running.
	if err := manager.Hydrate(ctx); err != nil {
		log.Fatal("Failed to hydrate deployments", zap.Error(err))
	}

	// ============================================
	// HTTP SERVER (WebSocket + HTTP endpoints)
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "openworkd"))
	router.Use(httpmw.OtelTracing("openworkd"))

	// WebSocket endpoint - primary realtime transport
	gateway.SetupRoutes(router)

	// Deployment handlers (HTTP + WebSocket)
	deployhandlers.RegisterRoutes(router, gateway.Dispatcher, manager, log)
	log.Info("Registered deployment handlers (HTTP + WebSocket)")

	// Health check (simple HTTP for monitoring)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "openworkd",
			"mode":    "websocket+http",
		})
	})

	// Create HTTP server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// Start server
	go func() {
		log.Info("openworkd listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down openworkd...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop supervised runtime processes. Desired states are untouched, so
	// running deployments resume on the next boot.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("Deployment manager shutdown error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("openworkd stopped")
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
