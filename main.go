package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Import pprof for profiling
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"waitroom/internal/di"
	"waitroom/internal/repository"
	"waitroom/internal/service"
	"waitroom/pkg/config"
	"waitroom/pkg/logger"
	pkgredis "waitroom/pkg/redis"
	"waitroom/pkg/telemetry"
)

func main() {
	// Optimize Go runtime for high concurrency
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "waitroom-api",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting waitroom API server...")

	ctx := context.Background()

	// Initialize tracing
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Tracing disabled: %v", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			appLog.Error(fmt.Sprintf("Tracer shutdown failed: %v", err))
		}
	}()

	// Initialize Redis connection
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
	}
	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	defer redisClient.Close()
	appLog.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))

	// Initialize event publisher
	var eventPublisher service.EventPublisher = service.NewNoOpEventPublisher()
	if cfg.Kafka.Enabled {
		publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.EventsTopic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
		} else {
			eventPublisher = publisher
			appLog.Info("Kafka event publisher connected")
		}
	}
	defer eventPublisher.Close()

	// Initialize repositories
	queueRepo := repository.NewRedisQueueRepository(redisClient)

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		Redis:          redisClient,
		QueueRepo:      queueRepo,
		EventPublisher: eventPublisher,
		ServiceConfig: &service.QueueServiceConfig{
			WaitingMetaTTL: cfg.Queue.WaitingMetaTTL,
			TicketTTL:      cfg.Queue.TicketTTL,
			JWTSecret:      cfg.JWT.Secret,
			JWTIssuer:      cfg.JWT.Issuer,
		},
	})

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		gin.DisableConsoleColor()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	queue := router.Group("/api/queue")
	{
		queue.POST("/entry", container.QueueHandler.SubmitEntry)
		queue.GET("/status", container.QueueHandler.QueryStatus)
		queue.GET("/ticket/:ticket_id", container.QueueHandler.GetTicket)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start pprof server on separate port for profiling
	if cfg.IsDevelopment() {
		go func() {
			pprofAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1000)
			appLog.Info(fmt.Sprintf("pprof server listening on %s", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				appLog.Error(fmt.Sprintf("pprof server error: %v", err))
			}
		}()
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Waitroom API listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
