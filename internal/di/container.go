package di

import (
	"waitroom/internal/handler"
	"waitroom/internal/repository"
	"waitroom/internal/service"
	"waitroom/pkg/redis"
)

// Container holds all dependencies for the waitroom API server
type Container struct {
	// Infrastructure
	Redis *redis.Client

	// Repositories
	QueueRepo repository.QueueRepository

	// Publishers
	EventPublisher service.EventPublisher

	// Services
	QueueService service.QueueService

	// Handlers
	HealthHandler *handler.HealthHandler
	QueueHandler  *handler.QueueHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Redis          *redis.Client
	QueueRepo      repository.QueueRepository
	EventPublisher service.EventPublisher
	ServiceConfig  *service.QueueServiceConfig
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		Redis:          cfg.Redis,
		QueueRepo:      cfg.QueueRepo,
		EventPublisher: cfg.EventPublisher,
	}

	// Initialize services
	c.QueueService = service.NewQueueService(c.QueueRepo, cfg.ServiceConfig)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.Redis)
	c.QueueHandler = handler.NewQueueHandler(c.QueueService)

	return c
}
