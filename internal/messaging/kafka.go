package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes JSON payloads, one synchronous writer per topic.
type KafkaProducer struct {
	brokers []string
	writers map[string]*kafka.Writer
	mu      sync.RWMutex
}

func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.RLock()
	w, ok := p.writers[topic]
	p.mu.RUnlock()
	if ok {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w = &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	p.writers[topic] = w
	return w
}

func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, w := range p.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Handler processes one message value.
type Handler func(ctx context.Context, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic as part of a consumer group. Each message is
// handled to completion and only then committed, so partition order is
// preserved. Handler errors are logged and the message is committed anyway;
// redelivering an order that already matched would trade it twice.
type Consumer struct {
	topic   string
	reader  messageReader
	handler Handler
	logger  zerolog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, handler Handler, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error().Str("topic", topic).Msgf(msg, args...)
		}),
	})
	return newConsumer(topic, reader, handler, logger)
}

func newConsumer(topic string, reader messageReader, handler Handler, logger zerolog.Logger) *Consumer {
	return &Consumer{
		topic:   topic,
		reader:  reader,
		handler: handler,
		logger:  logger.With().Str("topic", topic).Logger(),
	}
}

// Run blocks until ctx is done or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	c.logger.Info().Msg("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", c.topic, err)
		}

		if err := c.handler(ctx, msg.Value); err != nil {
			c.logger.Error().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("handler failed")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s@%d: %w", c.topic, msg.Offset, err)
		}
	}
}
