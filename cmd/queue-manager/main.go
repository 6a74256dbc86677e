package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"waitroom/internal/repository"
	"waitroom/internal/service"
	"waitroom/internal/worker"
	"waitroom/pkg/config"
	"waitroom/pkg/logger"
	pkgredis "waitroom/pkg/redis"
	"waitroom/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "queue-manager",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting queue manager...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "queue-manager",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Tracing disabled: %v", err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
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
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	redis, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	defer redis.Close()
	appLog.Info("Redis connected")

	// Create admission repository and pre-load Lua scripts
	admissionRepo := repository.NewRedisAdmissionRepository(redis)
	if err := admissionRepo.LoadScripts(ctx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to pre-load Lua scripts: %v", err))
	} else {
		appLog.Info("Lua scripts pre-loaded into Redis")
	}

	// Initialize event publisher
	var eventPublisher service.EventPublisher = service.NewNoOpEventPublisher()
	if cfg.Kafka.Enabled {
		publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.EventsTopic,
			ServiceName: "queue-manager",
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

	workerCfg := &worker.AdmissionWorkerConfig{
		ScheduleInterval: cfg.Queue.ScheduleInterval,
		TicketTTL:        cfg.Queue.TicketTTL,
		BatchLimit:       cfg.Queue.BatchLimit,
		InactivityGrace:  cfg.Queue.InactivityGrace,
		FallbackSoftCap:  cfg.Queue.DefaultSoftCap,
	}

	appLog.Info(fmt.Sprintf("Worker configuration: ScheduleInterval=%v, TicketTTL=%v, BatchLimit=%d, InactivityGrace=%v",
		workerCfg.ScheduleInterval, workerCfg.TicketTTL, workerCfg.BatchLimit, workerCfg.InactivityGrace))

	// Create and start admission worker
	admissionWorker := worker.NewAdmissionWorker(workerCfg, admissionRepo, eventPublisher, appLog)

	go admissionWorker.Start(ctx)
	appLog.Info("Admission worker started")

	// Expose Prometheus metrics
	go serveMetrics(cfg, appLog)

	// Start metrics reporter in background
	go reportMetrics(ctx, admissionWorker, appLog)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down queue manager...")
	cancel()

	// Give worker time to finish
	time.Sleep(2 * time.Second)
	appLog.Info("Queue manager stopped")
}

// serveMetrics exposes /metrics for Prometheus scraping
func serveMetrics(cfg *config.Config, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1)
	log.Info(fmt.Sprintf("Metrics server listening on %s", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error(fmt.Sprintf("Metrics server error: %v", err))
	}
}

// reportMetrics periodically logs worker totals
func reportMetrics(ctx context.Context, w *worker.AdmissionWorker, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			totalPromoted, totalReaped, totalEvicted, lastCycleTime := w.GetMetrics()
			if totalPromoted > 0 || totalReaped > 0 || totalEvicted > 0 {
				log.Info(fmt.Sprintf("Metrics: promoted=%d, reaped=%d, evicted=%d, last cycle at %v",
					totalPromoted, totalReaped, totalEvicted, lastCycleTime.Format(time.RFC3339)))
			}
		}
	}
}
