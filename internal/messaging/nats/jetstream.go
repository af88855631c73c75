// Package nats provides JetStream support for durable, persistent messaging.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pagebeat/pagebeat/internal/messaging"
)

// JetStreamClient is a NATS connection with JetStream persistence. It
// implements messaging.Publisher: publishes wait for broker acknowledgment,
// so a nil error means the message is durably stored.
type JetStreamClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// ConsumerConfig defines a durable JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxAckPending is maximum unacknowledged messages. 1 preserves strict
	// delivery order within the consumer.
	MaxAckPending int

	// NakDelay is the redelivery delay applied when a handler fails without
	// requesting a specific deferral.
	NakDelay time.Duration
}

// DefaultConsumerConfig returns sensible defaults for a worker consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxAckPending: 1,
		NakDelay:      5 * time.Second,
	}
}

// NewJetStreamClient connects to NATS and initializes a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		conn: conn,
		js:   js,
	}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    -1, // The worker owns retry routing; the broker redelivers until acked.
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}

	return consumer, nil
}

// Publish sends a message and waits for stream acknowledgment.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// PublishMsg sends a Message with headers and waits for stream acknowledgment.
func (c *JetStreamClient) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	natsMsg := &nats.Msg{
		Subject: msg.Subject,
		Data:    msg.Data,
	}

	if len(msg.Metadata) > 0 {
		natsMsg.Header = make(nats.Header)
		for k, v := range msg.Metadata {
			natsMsg.Header.Set(k, v)
		}
	}

	_, err := c.js.PublishMsg(ctx, natsMsg)
	return err
}

// Consume starts consuming messages from a durable consumer. A nil handler
// return acknowledges the message; a *messaging.DelayError NAKs it with the
// requested deferral; any other error NAKs it with the consumer's NakDelay.
// Returns a stop function that halts consumption.
func (c *JetStreamClient) Consume(ctx context.Context, streamName string, cfg ConsumerConfig, handler messaging.MessageHandler) (func(), error) {
	consumer, err := c.CreateOrUpdateConsumer(ctx, streamName, cfg)
	if err != nil {
		return nil, err
	}

	nakDelay := cfg.NakDelay
	if nakDelay <= 0 {
		nakDelay = 5 * time.Second
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		m := &messaging.Message{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
		}

		if headers := msg.Headers(); headers != nil {
			m.Metadata = make(map[string]string)
			for k := range headers {
				m.Metadata[k] = headers.Get(k)
			}
		}

		err := handler(consumeCtx, m)
		if err == nil {
			_ = msg.Ack()
			return
		}

		var delayErr *messaging.DelayError
		if errors.As(err, &delayErr) {
			_ = msg.NakWithDelay(delayErr.Delay)
			return
		}
		_ = msg.NakWithDelay(nakDelay)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() {
		cancel()
		cons.Stop()
	}, nil
}

// Close releases all resources.
func (c *JetStreamClient) Close() error {
	c.conn.Close()
	return nil
}

// Drain gracefully closes, allowing in-flight messages to complete.
func (c *JetStreamClient) Drain() error {
	return c.conn.Drain()
}

// IsConnected returns true if connected to NATS.
func (c *JetStreamClient) IsConnected() bool {
	return c.conn.IsConnected()
}

// Stream configurations for the pagebeat event bus.
var (
	// EventsStream captures canonical events on their way to the sink.
	// WorkQueue retention: messages are removed once the worker acks them.
	EventsStream = StreamConfig{
		Name:      messaging.StreamEvents,
		Subjects:  []string{messaging.SubjectEventsPrefix + ">"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  4 * 1024 * 1024 * 1024, // 4GB
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}

	// RetryStream captures retry envelopes awaiting their backoff deadline.
	RetryStream = StreamConfig{
		Name:      messaging.StreamRetry,
		Subjects:  []string{messaging.SubjectRetryPrefix + ">"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}

	// DLQStream holds dead-letter records for manual inspection and replay.
	DLQStream = StreamConfig{
		Name:      messaging.StreamDLQ,
		Subjects:  []string{messaging.SubjectDLQPrefix + ">"},
		MaxAge:    30 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)
