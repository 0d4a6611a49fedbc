package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

// eventTypeHeader lets consumers route without decoding the body
const eventTypeHeader = "event_type"

// PublishEvent writes one JSON event keyed by key, so every event of an order lands
// on the same partition.
func (p *Producer) PublishEvent(ctx context.Context, key, eventType string, event interface{}) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(eventType)}},
		Time:    time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", eventType))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// Consumer reads provider events with a consumer group. Offsets are cumulative per
// partition, so a message is committed only once it is applied or known to be
// unapplicable, and a failing message blocks its partition until then.
type Consumer struct {
	reader     messageReader
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{reader: reader, logger: util.GetLogger(), retryDelay: time.Second}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler processes one fetched message
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming blocks until ctx is done. A handler failure is retried on the same
// message after retryDelay; failures that cannot succeed on retry are logged and
// committed so the partition moves on.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	topic := c.reader.Config().Topic
	c.logger.Info("Consuming provider events", zap.String("topic", topic))

	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("Fetch failed", zap.String("topic", topic), zap.Error(err))
			c.wait(ctx)
			continue
		}

		if !c.apply(ctx, handler, msg) {
			break
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}

	c.logger.Info("Provider event consumer stopped", zap.String("topic", topic))
	return ctx.Err()
}

// apply runs handler until the message is done with. It returns false when ctx
// ended first, in which case the message must not be committed.
func (c *Consumer) apply(ctx context.Context, handler MessageHandler, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return true
		}

		fields := []zap.Field{
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		}
		if permanent(err) {
			c.logger.Error("Provider event dropped", fields...)
			return true
		}
		c.logger.Warn("Provider event not applied, retrying", fields...)

		c.wait(ctx)
		if ctx.Err() != nil {
			return false
		}
	}
}

// permanent reports failures that no redelivery can fix
func permanent(err error) bool {
	return errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidTransition)
}

func (c *Consumer) wait(ctx context.Context) {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
