// Package worker consumes events from the broker and delivers them into the
// columnar sink, with bounded exponential-backoff retries and dead-letter
// routing for unrecoverable messages.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pagebeat/pagebeat/internal/logging"
	"github.com/pagebeat/pagebeat/internal/messaging"
	"github.com/pagebeat/pagebeat/internal/metrics"
	"github.com/pagebeat/pagebeat/internal/models"
	"github.com/pagebeat/pagebeat/internal/sink"
)

// Sink is the write side of the columnar store.
type Sink interface {
	WriteEvent(ctx context.Context, row *sink.Row) error
}

// Config bounds the retry engine.
type Config struct {
	// MaxRetries is the retry ceiling: a failure at retry_count >= MaxRetries
	// dead-letters the message instead of rescheduling it.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// Multiplier grows the delay on each subsequent retry.
	Multiplier float64

	// WriteTimeout bounds a single sink write attempt.
	WriteTimeout time.Duration
}

// DefaultConfig returns the standard retry settings: 5 retries, 1s initial
// backoff, doubling each attempt, 5s per sink write.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		Multiplier:     2,
		WriteTimeout:   5 * time.Second,
	}
}

// Worker is the delivery state machine. Messages move through
// Received -> SinkWriteAttempted -> {Acked, Rescheduled, DeadLettered};
// acknowledgment happens only after the message is durably written,
// rescheduled, or dead-lettered.
type Worker struct {
	publisher messaging.Publisher
	sink      Sink
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a Worker.
func New(publisher messaging.Publisher, s Sink, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Worker{
		publisher: publisher,
		sink:      s,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleMain processes one message from the main topic. A nil return lets
// the consumer acknowledge; errors trigger broker redelivery.
func (w *Worker) HandleMain(ctx context.Context, msg *messaging.Message) error {
	key := messaging.KeyFromSubject(msg.Subject)

	payload, retryCount, ok := w.unwrap(msg)
	if !ok {
		// Unparseable payload: terminal, no retry.
		return w.deadLetter(ctx, key, msg.Data, fmt.Errorf("unparseable message payload"), 0, reasonUnparseable)
	}

	return w.deliver(ctx, key, payload, retryCount)
}

// HandleRetry processes one message from the retry topic. Envelopes that
// have not reached their backoff deadline are deferred in the broker, so
// pending retries survive a worker restart.
func (w *Worker) HandleRetry(ctx context.Context, msg *messaging.Message) error {
	key := messaging.KeyFromSubject(msg.Subject)

	var envelope models.RetryEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return w.deadLetter(ctx, key, msg.Data, fmt.Errorf("unparseable retry envelope: %w", err), 0, reasonUnparseable)
	}

	notBefore := envelope.Meta.NotBefore
	if h := msg.Header(messaging.HeaderNotBefore); h != "" {
		if t, err := time.Parse(time.RFC3339Nano, h); err == nil {
			notBefore = t
		}
	}

	if remaining := notBefore.Sub(w.now()); remaining > 0 {
		return messaging.Delay(remaining)
	}

	retryCount := envelope.Meta.RetryCount
	if h := msg.Header(messaging.HeaderRetryCount); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			retryCount = n
		}
	}

	return w.deliver(ctx, key, envelope.Payload, retryCount)
}

// unwrap parses a main-topic message. A payload carrying an embedded retry
// envelope (e.g. replayed from the dead-letter stream) is unwrapped; the
// transport header takes precedence for the retry count.
func (w *Worker) unwrap(msg *messaging.Message) (payload []byte, retryCount int, ok bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &probe); err != nil {
		return nil, 0, false
	}

	payload = msg.Data
	if rawMeta, found := probe["__retry_meta"]; found {
		var meta models.RetryMeta
		if err := json.Unmarshal(rawMeta, &meta); err == nil {
			retryCount = meta.RetryCount
			if inner, found := probe["event"]; found {
				payload = inner
			}
		}
	}

	if h := msg.Header(messaging.HeaderRetryCount); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			retryCount = n
		}
	}

	return payload, retryCount, true
}

// deliver attempts the sink write and routes the outcome: ack on success,
// reschedule with backoff below the ceiling, dead-letter at the ceiling.
func (w *Worker) deliver(ctx context.Context, key string, payload []byte, retryCount int) error {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return w.deadLetter(ctx, key, payload, fmt.Errorf("unparseable event payload: %w", err), retryCount, reasonUnparseable)
	}
	// JSON null and {} both decode cleanly but carry no event; persisting
	// them would mint rows of nothing.
	if len(fields) == 0 {
		return w.deadLetter(ctx, key, payload, fmt.Errorf("empty event payload"), retryCount, reasonUnparseable)
	}

	writeErr := w.writeSink(ctx, fields)
	if writeErr == nil {
		metrics.MessagesDelivered.Inc()
		return nil
	}

	metrics.SinkWriteErrors.Inc()
	w.logger.Warn("sink write failed",
		logging.ProjectID(key),
		logging.Retries(retryCount),
		logging.Error(writeErr),
	)

	if retryCount >= w.cfg.MaxRetries {
		return w.deadLetter(ctx, key, payload, writeErr, retryCount, reasonSinkFailure)
	}

	return w.reschedule(ctx, key, payload, writeErr, retryCount)
}

func (w *Worker) writeSink(ctx context.Context, fields map[string]any) error {
	writeCtx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.sink.WriteEvent(writeCtx, sink.FromMap(fields))
	metrics.SinkWriteDuration.Observe(time.Since(start).Seconds())
	return err
}

// reschedule publishes a retry envelope with an incremented count and a
// not-before deadline now+backoff. The original message is acknowledged only
// once the reschedule is confirmed; a republish failure routes to
// dead-letter rather than being silently lost.
func (w *Worker) reschedule(ctx context.Context, key string, payload []byte, cause error, retryCount int) error {
	backoff := Backoff(w.cfg.InitialBackoff, w.cfg.Multiplier, retryCount)
	now := w.now()

	envelope := models.RetryEnvelope{
		Payload: payload,
		Meta: models.RetryMeta{
			RetryCount:   retryCount + 1,
			LastError:    cause.Error(),
			LastFailedAt: now,
			NotBefore:    now.Add(backoff),
		},
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return w.deadLetter(ctx, key, payload, fmt.Errorf("marshal retry envelope: %w", err), retryCount, reasonSinkFailure)
	}

	msg := &messaging.Message{
		Subject: messaging.RetrySubject(key),
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderRetryCount: strconv.Itoa(retryCount + 1),
			messaging.HeaderNotBefore:  envelope.Meta.NotBefore.Format(time.RFC3339Nano),
		},
	}

	if err := w.publisher.PublishMsg(ctx, msg); err != nil {
		w.logger.Error("retry republish failed, routing to dead-letter",
			logging.ProjectID(key),
			logging.Error(err),
		)
		return w.deadLetter(ctx, key, payload, cause, retryCount, reasonRepublishFailed)
	}

	metrics.RetriesScheduled.Inc()
	w.logger.Info("delivery rescheduled",
		logging.ProjectID(key),
		logging.Retries(retryCount+1),
		slog.Duration("backoff", backoff),
	)
	return nil
}

// Dead-letter reasons, used only for metrics labels.
const (
	reasonUnparseable     = "unparseable"
	reasonSinkFailure     = "sink_failure"
	reasonRepublishFailed = "republish_failed"
)

// deadLetter publishes a terminal record preserving the original payload and
// failure context. Only a failed dead-letter publish returns an error, which
// keeps the original message unacknowledged for redelivery.
func (w *Worker) deadLetter(ctx context.Context, key string, payload []byte, cause error, retryCount int, reason string) error {
	record := models.DeadLetterRecord{
		Original:   payload,
		LastError:  cause.Error(),
		FailedAt:   w.now(),
		RetryCount: retryCount,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead-letter record: %w", err)
	}

	if err := w.publisher.Publish(ctx, messaging.DLQSubject(key), data); err != nil {
		return fmt.Errorf("publish dead-letter record: %w", err)
	}

	metrics.DeadLettered.WithLabelValues(reason).Inc()
	w.logger.Error("message dead-lettered",
		logging.ProjectID(key),
		logging.Retries(retryCount),
		logging.Error(cause),
	)
	return nil
}
