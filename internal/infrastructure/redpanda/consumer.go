package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// StartOffset is "earliest" or "latest" for a fresh group.
	StartOffset string
	// PollTimeout bounds a single poll.
	PollTimeout time.Duration
}

// DefaultConsumerConfig returns defaults for care event consumers.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:     []string{"localhost:9092"},
		GroupID:     "care-worker",
		StartOffset: "earliest",
		PollTimeout: time.Second,
	}
}

// MessageHandler is called for each consumed message.
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage is a message read from a topic.
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Consumer reads care domain events from Redpanda. Offsets are committed
// only after the handler returns without error.
type Consumer struct {
	client  *kgo.Client
	config  ConsumerConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	handler MessageHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messagesRead int64
	errorCount   int64
}

// NewConsumer creates a consumer for the configured topics.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}

	offset := kgo.NewOffset().AtStart()
	if cfg.StartOffset == "latest" {
		offset = kgo.NewOffset().AtEnd()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:  client,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the poll loop.
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.pollLoop()
	c.logger.Info("consumer started",
		zap.String("group", c.config.GroupID),
		zap.Strings("topics", c.config.Topics))
}

// Stop cancels the poll loop and closes the client.
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.client.Close()
	c.logger.Info("consumer stopped", zap.String("group", c.config.GroupID))
}

func (c *Consumer) pollLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		pollCtx, cancel := context.WithTimeout(c.ctx, c.config.PollTimeout)
		fetches := c.client.PollFetches(pollCtx)
		cancel()

		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			atomic.AddInt64(&c.errorCount, 1)
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		var handled []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if err := c.handleRecord(r); err != nil {
				atomic.AddInt64(&c.errorCount, 1)
				c.logger.Error("handler failed",
					zap.String("topic", r.Topic),
					zap.Int64("offset", r.Offset),
					zap.Error(err))
				return
			}
			handled = append(handled, r)
		})

		if len(handled) > 0 {
			if err := c.client.CommitRecords(c.ctx, handled...); err != nil {
				c.logger.Error("commit failed", zap.Error(err))
			}
		}
	}
}

func (c *Consumer) handleRecord(r *kgo.Record) error {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}

	ctx, span := c.tracer.Start(c.ctx, "consume_message",
		trace.WithAttributes(
			attribute.String("topic", r.Topic),
			attribute.Int64("offset", r.Offset),
		))
	defer span.End()

	msg := &ConsumedMessage{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}

	if err := c.handler(ctx, msg); err != nil {
		span.RecordError(err)
		return err
	}
	atomic.AddInt64(&c.messagesRead, 1)
	return nil
}

// MessagesRead returns the number of successfully handled messages.
func (c *Consumer) MessagesRead() int64 {
	return atomic.LoadInt64(&c.messagesRead)
}
