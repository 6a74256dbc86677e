package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"waitroom/internal/domain"
	"waitroom/pkg/kafka"
)

// EventPublisher defines the interface for publishing ticket lifecycle events
type EventPublisher interface {
	// PublishTicketIssued publishes a ticket issued event
	PublishTicketIssued(ctx context.Context, ticket *domain.Ticket, expireAt time.Time) error

	// PublishTicketExpired publishes a ticket expired event
	PublishTicketExpired(ctx context.Context, ticketID string) error

	// Close closes the event publisher
	Close() error
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    *kafka.Producer
	topic       string
	serviceName string
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "waitroom-events"
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "waitroom"
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "waitroom-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
	}, nil
}

// PublishTicketIssued publishes a ticket issued event
func (p *KafkaEventPublisher) PublishTicketIssued(ctx context.Context, ticket *domain.Ticket, expireAt time.Time) error {
	event := domain.NewQueueEvent(domain.QueueEventTicketIssued, uuid.New().String())
	event.TicketID = ticket.TicketID
	event.UserID = ticket.UserID
	event.Nickname = ticket.Nickname
	event.ExpireAt = expireAt

	return p.publishEvent(ctx, event)
}

// PublishTicketExpired publishes a ticket expired event
func (p *KafkaEventPublisher) PublishTicketExpired(ctx context.Context, ticketID string) error {
	event := domain.NewQueueEvent(domain.QueueEventTicketExpired, uuid.New().String())
	event.TicketID = ticketID

	return p.publishEvent(ctx, event)
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// publishEvent publishes a queue event to Kafka
func (p *KafkaEventPublisher) publishEvent(ctx context.Context, event *domain.QueueEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := map[string]string{
		"event_type":   string(event.Type),
		"event_id":     event.EventID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}

	msg := &kafka.Message{
		Topic:     p.topic,
		Key:       []byte(event.Key()),
		Value:     value,
		Headers:   headers,
		Timestamp: time.Now(),
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher, used
// when Kafka is disabled and in tests
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// PublishTicketIssued is a no-op
func (p *NoOpEventPublisher) PublishTicketIssued(ctx context.Context, ticket *domain.Ticket, expireAt time.Time) error {
	return nil
}

// PublishTicketExpired is a no-op
func (p *NoOpEventPublisher) PublishTicketExpired(ctx context.Context, ticketID string) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
