package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers       []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
	BatchSize     int
	LingerMs      int
}

// Message is a single record to produce
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Producer wraps a franz-go client for producing messages
type Producer struct {
	client *kgo.Client
	config *ProducerConfig
}

// NewProducer creates a Kafka producer and verifies broker connectivity
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("producer config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.BatchSize > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(cfg.BatchSize))
	}
	if cfg.LingerMs > 0 {
		opts = append(opts, kgo.ProducerLinger(time.Duration(cfg.LingerMs)*time.Millisecond))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	// Verify connectivity with retry
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 && cfg.RetryInterval > 0 {
			time.Sleep(cfg.RetryInterval)
		}
		if lastErr = client.Ping(ctx); lastErr == nil {
			return &Producer{client: client, config: cfg}, nil
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to kafka after %d attempts: %w", retries+1, lastErr)
}

// Produce sends a message and waits for the broker acknowledgement
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}

	record := &kgo.Record{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", msg.Topic, err)
	}
	return nil
}

// Close flushes pending records and closes the client
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
