package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagebeat/pagebeat/internal/messaging"
	"github.com/pagebeat/pagebeat/internal/models"
	"github.com/pagebeat/pagebeat/internal/sink"
)

type capturedMsg struct {
	subject  string
	data     []byte
	metadata map[string]string
}

type fakePublisher struct {
	msgs    []capturedMsg
	failFor string // subject prefix that fails
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (p *fakePublisher) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if p.failFor != "" && strings.HasPrefix(msg.Subject, p.failFor) {
		return fmt.Errorf("publish refused for %s", msg.Subject)
	}
	p.msgs = append(p.msgs, capturedMsg{msg.Subject, msg.Data, msg.Metadata})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) bySubjectPrefix(prefix string) []capturedMsg {
	var out []capturedMsg
	for _, m := range p.msgs {
		if strings.HasPrefix(m.subject, prefix) {
			out = append(out, m)
		}
	}
	return out
}

type fakeSink struct {
	rows     []*sink.Row
	err      error
	failures int // fail this many writes, then succeed
}

func (s *fakeSink) WriteEvent(ctx context.Context, row *sink.Row) error {
	if s.err != nil {
		return s.err
	}
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("sink unavailable")
	}
	s.rows = append(s.rows, row)
	return nil
}

func newTestWorker(pub *fakePublisher, s *fakeSink) *Worker {
	w := New(pub, s, Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		Multiplier:     2,
		WriteTimeout:   time.Second,
	}, nil)
	return w
}

func eventPayload(t *testing.T, projectID string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"event_id":    "ev-1",
		"project_id":  projectID,
		"event":       "pageview",
		"event_time":  1700000000000,
		"server_time": 1700000000500,
	})
	require.NoError(t, err)
	return data
}

func mainMsg(data []byte) *messaging.Message {
	return &messaging.Message{Subject: "events.main.p1", Data: data}
}

func TestHandleMain_DeliversToSink(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{}
	w := newTestWorker(pub, s)

	err := w.HandleMain(context.Background(), mainMsg(eventPayload(t, "p1")))
	require.NoError(t, err)

	require.Len(t, s.rows, 1)
	assert.Equal(t, "ev-1", s.rows[0].EventID)
	assert.Equal(t, "p1", s.rows[0].ProjectID)
	assert.Empty(t, pub.msgs, "successful delivery publishes nothing")
}

func TestHandleMain_SinkFailureSchedulesRetry(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{err: fmt.Errorf("sink down")}
	w := newTestWorker(pub, s)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	err := w.HandleMain(context.Background(), mainMsg(eventPayload(t, "p1")))
	require.NoError(t, err, "a scheduled retry acknowledges the original message")

	retries := pub.bySubjectPrefix("events.retry.")
	require.Len(t, retries, 1)
	assert.Equal(t, "events.retry.p1", retries[0].subject)
	assert.Equal(t, "1", retries[0].metadata["Pagebeat-Retry-Count"])

	var envelope models.RetryEnvelope
	require.NoError(t, json.Unmarshal(retries[0].data, &envelope))
	assert.Equal(t, 1, envelope.Meta.RetryCount)
	assert.Equal(t, "sink down", envelope.Meta.LastError)
	assert.Equal(t, fixed.Add(time.Second), envelope.Meta.NotBefore)
	assert.JSONEq(t, string(eventPayload(t, "p1")), string(envelope.Payload))
}

func TestHandleMain_UnparseableDeadLetters(t *testing.T) {
	pub := &fakePublisher{}
	w := newTestWorker(pub, &fakeSink{})

	err := w.HandleMain(context.Background(), mainMsg([]byte("not json")))
	require.NoError(t, err)

	dead := pub.bySubjectPrefix("events.dlq.")
	require.Len(t, dead, 1)

	var record models.DeadLetterRecord
	require.NoError(t, json.Unmarshal(dead[0].data, &record))
	assert.Equal(t, 0, record.RetryCount)
	assert.Contains(t, record.LastError, "unparseable")
}

func TestHandleMain_NullAndEmptyPayloadsDeadLetter(t *testing.T) {
	for _, payload := range []string{"null", "{}"} {
		t.Run(payload, func(t *testing.T) {
			pub := &fakePublisher{}
			s := &fakeSink{}
			w := newTestWorker(pub, s)

			err := w.HandleMain(context.Background(), mainMsg([]byte(payload)))
			require.NoError(t, err)

			assert.Empty(t, s.rows, "nothing to persist")
			dead := pub.bySubjectPrefix("events.dlq.")
			require.Len(t, dead, 1)

			var record models.DeadLetterRecord
			require.NoError(t, json.Unmarshal(dead[0].data, &record))
			assert.Contains(t, record.LastError, "empty")
		})
	}
}

func TestHandleRetry_NotDueIsDeferred(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{}
	w := newTestWorker(pub, s)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	envelope := models.RetryEnvelope{
		Payload: eventPayload(t, "p1"),
		Meta: models.RetryMeta{
			RetryCount: 2,
			NotBefore:  fixed.Add(3 * time.Second),
		},
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	handleErr := w.HandleRetry(context.Background(), &messaging.Message{
		Subject: "events.retry.p1",
		Data:    data,
	})

	var delay *messaging.DelayError
	require.ErrorAs(t, handleErr, &delay)
	assert.Equal(t, 3*time.Second, delay.Delay)
	assert.Empty(t, s.rows, "a deferred message must not touch the sink")
}

func TestHandleRetry_DueDelivers(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{}
	w := newTestWorker(pub, s)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	envelope := models.RetryEnvelope{
		Payload: eventPayload(t, "p1"),
		Meta: models.RetryMeta{
			RetryCount: 2,
			NotBefore:  fixed.Add(-time.Second),
		},
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	require.NoError(t, w.HandleRetry(context.Background(), &messaging.Message{
		Subject: "events.retry.p1",
		Data:    data,
	}))
	require.Len(t, s.rows, 1)
	assert.Equal(t, "ev-1", s.rows[0].EventID)
}

func TestHandleRetry_BackoffGrowsWithCount(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{err: fmt.Errorf("still down")}
	w := newTestWorker(pub, s)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	envelope := models.RetryEnvelope{
		Payload: eventPayload(t, "p1"),
		Meta: models.RetryMeta{
			RetryCount: 3,
			NotBefore:  fixed.Add(-time.Second),
		},
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	require.NoError(t, w.HandleRetry(context.Background(), &messaging.Message{
		Subject: "events.retry.p1",
		Data:    data,
	}))

	retries := pub.bySubjectPrefix("events.retry.")
	require.Len(t, retries, 1)

	var next models.RetryEnvelope
	require.NoError(t, json.Unmarshal(retries[0].data, &next))
	assert.Equal(t, 4, next.Meta.RetryCount)
	// retry_count 3 waits initial * 2^3 = 8s
	assert.Equal(t, fixed.Add(8*time.Second), next.Meta.NotBefore)
}

func TestHandleRetry_CeilingDeadLetters(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{err: fmt.Errorf("permanently down")}
	w := newTestWorker(pub, s)

	envelope := models.RetryEnvelope{
		Payload: eventPayload(t, "p1"),
		Meta: models.RetryMeta{
			RetryCount: 5,
			NotBefore:  time.Now().Add(-time.Second),
		},
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	require.NoError(t, w.HandleRetry(context.Background(), &messaging.Message{
		Subject: "events.retry.p1",
		Data:    data,
	}))

	assert.Empty(t, pub.bySubjectPrefix("events.retry."), "the ceiling ends rescheduling")

	dead := pub.bySubjectPrefix("events.dlq.")
	require.Len(t, dead, 1)
	assert.Equal(t, "events.dlq.p1", dead[0].subject)

	var record models.DeadLetterRecord
	require.NoError(t, json.Unmarshal(dead[0].data, &record))
	assert.Equal(t, 5, record.RetryCount)
	assert.JSONEq(t, string(eventPayload(t, "p1")), string(record.Original))
	assert.Contains(t, record.LastError, "permanently down")
}

func TestHandleRetry_HeaderOverridesEmbeddedCount(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{err: fmt.Errorf("down")}
	w := newTestWorker(pub, s)

	envelope := models.RetryEnvelope{
		Payload: eventPayload(t, "p1"),
		Meta: models.RetryMeta{
			RetryCount: 1,
			NotBefore:  time.Now().Add(-time.Second),
		},
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	require.NoError(t, w.HandleRetry(context.Background(), &messaging.Message{
		Subject:  "events.retry.p1",
		Data:     data,
		Metadata: map[string]string{"Pagebeat-Retry-Count": "5"},
	}))

	// Header said 5, which is the ceiling: dead-letter, not another retry.
	assert.Empty(t, pub.bySubjectPrefix("events.retry."))
	assert.Len(t, pub.bySubjectPrefix("events.dlq."), 1)
}

func TestReschedule_RepublishFailureDeadLetters(t *testing.T) {
	pub := &fakePublisher{failFor: "events.retry."}
	s := &fakeSink{err: fmt.Errorf("sink down")}
	w := newTestWorker(pub, s)

	err := w.HandleMain(context.Background(), mainMsg(eventPayload(t, "p1")))
	require.NoError(t, err)

	dead := pub.bySubjectPrefix("events.dlq.")
	require.Len(t, dead, 1)
}

func TestDeadLetterPublishFailureKeepsMessage(t *testing.T) {
	pub := &fakePublisher{failFor: "events.dlq."}
	w := newTestWorker(pub, &fakeSink{})

	err := w.HandleMain(context.Background(), mainMsg([]byte("not json")))
	assert.Error(t, err, "a failed dead-letter publish must leave the message unacked")
}

func TestHandleMain_EmbeddedRetryMetaUnwrapped(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{}
	w := newTestWorker(pub, s)

	wrapped, err := json.Marshal(models.RetryEnvelope{
		Payload: eventPayload(t, "p1"),
		Meta:    models.RetryMeta{RetryCount: 2},
	})
	require.NoError(t, err)

	require.NoError(t, w.HandleMain(context.Background(), mainMsg(wrapped)))
	require.Len(t, s.rows, 1)
	assert.Equal(t, "ev-1", s.rows[0].EventID)
}

func TestHandleRetry_RecoveryAfterOutage(t *testing.T) {
	pub := &fakePublisher{}
	s := &fakeSink{failures: 1}
	w := newTestWorker(pub, s)

	payload := eventPayload(t, "p1")

	// First attempt fails and schedules a retry.
	require.NoError(t, w.HandleMain(context.Background(), mainMsg(payload)))
	retries := pub.bySubjectPrefix("events.retry.")
	require.Len(t, retries, 1)

	// The sink recovers; redelivery of the envelope succeeds.
	var envelope models.RetryEnvelope
	require.NoError(t, json.Unmarshal(retries[0].data, &envelope))
	envelope.Meta.NotBefore = time.Now().Add(-time.Millisecond)
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	require.NoError(t, w.HandleRetry(context.Background(), &messaging.Message{
		Subject: "events.retry.p1",
		Data:    data,
	}))
	require.Len(t, s.rows, 1)
	assert.Empty(t, pub.bySubjectPrefix("events.dlq."))
}

func TestRetrySubjectKeepsProjectKey(t *testing.T) {
	w := newTestWorker(&fakePublisher{}, &fakeSink{err: errors.New("down")})

	require.NoError(t, w.HandleMain(context.Background(), &messaging.Message{
		Subject: "events.main.p2",
		Data:    eventPayload(t, "p2"),
	}))

	retries := w.publisher.(*fakePublisher).bySubjectPrefix("events.retry.")
	require.Len(t, retries, 1)
	assert.Equal(t, "events.retry.p2", retries[0].subject)
}
