// Package messaging provides abstractions for message broker communication.
// It defines interfaces that let the gateway and worker publish and consume
// messages without being coupled to a specific broker implementation.
package messaging

import (
	"context"
	"fmt"
	"time"
)

// Message represents a message received from or sent to the broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs carried as transport headers.
	Metadata map[string]string

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// Header returns the metadata value for key, or "" when absent.
func (m *Message) Header(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// MessageHandler processes a received message. A nil return acknowledges the
// message. Returning a *DelayError defers redelivery by the embedded duration;
// any other error triggers redelivery after the consumer's default backoff.
type MessageHandler func(ctx context.Context, msg *Message) error

// DelayError signals that a message is not due yet and should be redelivered
// by the broker after Delay. The deferral lives in the broker, so it survives
// process restarts.
type DelayError struct {
	Delay time.Duration
}

func (e *DelayError) Error() string {
	return fmt.Sprintf("redeliver after %s", e.Delay)
}

// Delay returns a DelayError deferring redelivery by d.
func Delay(d time.Duration) *DelayError {
	return &DelayError{Delay: d}
}

// Publisher publishes messages to subjects with durable broker acknowledgment.
type Publisher interface {
	// Publish sends a message to the specified subject and waits for the
	// broker to confirm persistence.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message with full control over headers.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}
