package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"marketplace/internal/config"
	"marketplace/internal/model"
	"marketplace/internal/util"
)

// KafkaProducer publishes security events. The service degrades gracefully
// without it: a nil producer drops events.
type KafkaProducer struct {
	Writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaConfig.Brokers...),
		Topic:        kafkaConfig.SecurityEventTopic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write kafka messages",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}

	util.Info("Kafka producer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("topic", kafkaConfig.SecurityEventTopic),
	)

	return &KafkaProducer{
		Writer: writer,
		topic:  kafkaConfig.SecurityEventTopic,
		logger: logger,
	}, nil
}

// PublishSecurityEvent sends an event keyed by the subject email. Safe on a
// nil receiver so callers don't have to branch on Kafka availability.
func (p *KafkaProducer) PublishSecurityEvent(ctx context.Context, event model.SecurityEvent) error {
	if p == nil || p.Writer == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}

	if err := p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Email),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish security event: %w", err)
	}

	p.logger.Debug("Security event published",
		util.String("event_type", event.EventType),
		util.String("email", event.Email),
	)
	return nil
}

func (p *KafkaProducer) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}
