package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string

	// Count is the max number of entries to read per batch. Default: 100.
	Count int64

	// Block is how long to wait for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is the initial wait after a read or handler error,
	// doubled up to MaxRetryInterval. Defaults: 1s and 30s.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	// OrderKey groups messages that must be applied in stream order. Once a
	// message fails, later messages with the same key in the batch are left
	// pending. Nil puts every message under one key, so a batch stops at its
	// first failure.
	OrderKey func(msg Message) string

	Logger *zap.Logger
}

// MessageHandler processes a stream message. Returning nil acknowledges it;
// an error leaves it pending so it is delivered again.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is a single stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]any
}

// StreamConsumer consumes a stream through a consumer group with
// at-least-once delivery.
type StreamConsumer struct {
	client *Client
	config StreamConsumerConfig
	logger *zap.Logger
	ack    func(ctx context.Context, id string) error
}

func NewStreamConsumer(client *Client, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group == "" || config.Consumer == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}

	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sc := &StreamConsumer{client: client, config: config, logger: logger}
	sc.ack = func(ctx context.Context, id string) error {
		_, err := client.XAck(ctx, config.Stream, config.Group, id)
		return err
	}
	return sc, nil
}

// Run consumes until ctx is cancelled. It first drains entries left pending
// by an earlier run, then reads new ones; after a handler failure it goes
// back to the pending list.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	if err := sc.client.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
		return err
	}
	sc.logger.Info("Consumer group ready",
		zap.String("stream", sc.config.Stream),
		zap.String("group", sc.config.Group),
		zap.String("consumer", sc.config.Consumer))

	pending := true
	retryInterval := sc.config.RetryInterval
	backoff := func() error {
		select {
		case <-time.After(retryInterval):
			retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			sc.logger.Info("Stream consumer shutting down",
				zap.String("stream", sc.config.Stream),
				zap.String("group", sc.config.Group))
			return err
		}

		id := ">"
		if pending {
			id = "0"
		}
		messages, err := sc.readMessages(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))
			if err := backoff(); err != nil {
				return err
			}
			continue
		}

		if pending && len(messages) == 0 {
			pending = false
			continue
		}

		if failed := sc.processBatch(ctx, handler, messages); failed == 0 {
			retryInterval = sc.config.RetryInterval
			continue
		}
		pending = true
		if err := backoff(); err != nil {
			return err
		}
	}
}

func (sc *StreamConsumer) readMessages(ctx context.Context, id string) ([]Message, error) {
	block := sc.config.Block
	if id != ">" {
		// pending entries are returned immediately
		block = -1
	}
	streams, err := sc.client.XReadGroup(ctx, sc.config.Group, sc.config.Consumer, sc.config.Stream, id, sc.config.Count, block)
	if err != nil {
		return nil, err
	}

	var messages []Message
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			messages = append(messages, Message{ID: xmsg.ID, Stream: stream.Stream, Values: xmsg.Values})
		}
	}
	return messages, nil
}

// processBatch handles messages in order and returns how many were left
// pending. After a failure, later messages sharing its order key are not
// handed to handler, so they are redelivered behind it.
func (sc *StreamConsumer) processBatch(ctx context.Context, handler MessageHandler, messages []Message) int {
	failed := 0
	held := make(map[string]bool)
	for _, msg := range messages {
		key := sc.orderKey(msg)
		if held[key] {
			failed++
			sc.logger.Debug("Holding message behind failed predecessor",
				zap.String("stream", sc.config.Stream),
				zap.String("id", msg.ID),
				zap.String("key", key))
			continue
		}
		if err := sc.processMessage(ctx, handler, msg); err != nil {
			failed++
			held[key] = true
			sc.logger.Error("Error processing message",
				zap.String("stream", sc.config.Stream),
				zap.String("id", msg.ID),
				zap.Error(err))
		}
	}
	return failed
}

func (sc *StreamConsumer) orderKey(msg Message) string {
	if sc.config.OrderKey == nil {
		return ""
	}
	return sc.config.OrderKey(msg)
}

func (sc *StreamConsumer) processMessage(ctx context.Context, handler MessageHandler, msg Message) error {
	if err := handler(ctx, msg); err != nil {
		return err
	}
	if err := sc.ack(ctx, msg.ID); err != nil {
		sc.logger.Warn("Failed to acknowledge message",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
	}
	return nil
}
