// Package dlq inspects and manages the dead-letter stream.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pagebeat/pagebeat/internal/messaging"
	natsclient "github.com/pagebeat/pagebeat/internal/messaging/nats"
	"github.com/pagebeat/pagebeat/internal/models"
)

// Entry is a dead-letter record together with its broker position.
type Entry struct {
	Subject   string                  `json:"subject"`
	ProjectID string                  `json:"project_id"`
	Record    models.DeadLetterRecord `json:"record"`
}

// Queue reads the dead-letter stream. The worker writes to it; this type
// exists for operators (list, stats, purge).
type Queue struct {
	stream jetstream.Stream
}

// NewQueue opens the dead-letter stream, creating it if missing.
func NewQueue(ctx context.Context, js *natsclient.JetStreamClient) (*Queue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, natsclient.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter stream: %w", err)
	}

	return &Queue{stream: stream}, nil
}

// List returns up to limit dead-letter entries, oldest first.
func (q *Queue) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	// Ephemeral consumer so listing never disturbs durable state.
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: messaging.SubjectDLQPrefix + ">",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var entries []Entry
	for msg := range msgs.Messages() {
		var rec models.DeadLetterRecord
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			continue
		}
		entries = append(entries, Entry{
			Subject:   msg.Subject(),
			ProjectID: messaging.KeyFromSubject(msg.Subject()),
			Record:    rec,
		})
	}

	return entries, nil
}

// Stats reports stream-level counters.
func (q *Queue) Stats(ctx context.Context) (map[string]any, error) {
	info, err := q.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter stream info: %w", err)
	}

	return map[string]any{
		"messages":  info.State.Msgs,
		"bytes":     info.State.Bytes,
		"first_seq": info.State.FirstSeq,
		"last_seq":  info.State.LastSeq,
	}, nil
}

// Purge removes all dead-letter entries.
func (q *Queue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dead-letter stream: %w", err)
	}
	return nil
}
