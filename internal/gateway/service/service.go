// Package service orchestrates the ingestion pipeline: validate, enrich,
// canonicalize, gate on project activity, and publish to the broker.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pagebeat/pagebeat/internal/activity"
	"github.com/pagebeat/pagebeat/internal/gateway/canonical"
	"github.com/pagebeat/pagebeat/internal/gateway/enrich"
	"github.com/pagebeat/pagebeat/internal/gateway/validator"
	"github.com/pagebeat/pagebeat/internal/logging"
	"github.com/pagebeat/pagebeat/internal/messaging"
	"github.com/pagebeat/pagebeat/internal/metrics"
	"github.com/pagebeat/pagebeat/internal/models"
)

// ReasonProjectDisabled is reported when a batch is dropped by the
// activity gate.
const ReasonProjectDisabled = "project_disabled"

// BatchResult is the accounting for one processed request.
type BatchResult struct {
	Accepted    int
	Rejected    int
	ParseErrors int
	Dropped     int
	Reason      string
}

// IngestService runs the gateway pipeline. The broker publish is
// synchronous with respect to the request: broker backpressure directly
// slows ingestion, and a publish failure surfaces as an error (HTTP 503)
// rather than a silent drop.
type IngestService struct {
	publisher      messaging.Publisher
	gate           activity.Gate
	publishTimeout time.Duration
	logger         *slog.Logger

	mu         sync.Mutex
	lastServer time.Time
}

// NewIngestService builds the service.
func NewIngestService(publisher messaging.Publisher, gate activity.Gate, publishTimeout time.Duration, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}
	return &IngestService{
		publisher:      publisher,
		gate:           gate,
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// Ingest processes one parsed batch. All events in a batch share a project
// id by construction of the tracking snippet; the gate is resolved once per
// batch. A nil error with the result means the request was processed
// (possibly partially); a non-nil error means the broker was unavailable.
func (s *IngestService) Ingest(ctx context.Context, events []models.RawEvent, parseErrors int, enr enrich.Enrichment) (*BatchResult, error) {
	res := &BatchResult{ParseErrors: parseErrors}
	now := s.serverTime()

	var batch []*models.CanonicalEvent
	for _, raw := range events {
		if err := validator.Validate(raw, now); err != nil {
			res.Rejected++
			metrics.EventsTotal.WithLabelValues("rejected").Inc()
			continue
		}
		batch = append(batch, canonical.Canonicalize(raw, enr, now.UnixMilli()))
	}

	if len(batch) == 0 {
		return res, nil
	}

	projectID := batch[0].ProjectID
	if !s.gate.IsActive(ctx, projectID) {
		res.Dropped = len(batch)
		res.Reason = ReasonProjectDisabled
		metrics.BatchesDropped.Inc()
		s.logger.InfoContext(ctx, "batch dropped, project disabled",
			logging.ProjectID(projectID),
			slog.Int("events", len(batch)),
		)
		return res, nil
	}

	for _, ev := range batch {
		// Keyed per event, so a mixed-project batch never lands under the
		// wrong partition.
		subject := messaging.EventSubject(ev.ProjectID)
		if err := s.publish(ctx, subject, ev); err != nil {
			metrics.PublishErrors.Inc()
			return nil, fmt.Errorf("publish to %s: %w", subject, err)
		}
		res.Accepted++
		metrics.EventsTotal.WithLabelValues("accepted").Inc()
	}

	return res, nil
}

func (s *IngestService) publish(ctx context.Context, subject string, ev *models.CanonicalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	start := time.Now()
	err = s.publisher.Publish(pubCtx, subject, data)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	return err
}

// serverTime returns the current time, never going backwards within one
// process so server_time is non-decreasing across calls.
func (s *IngestService) serverTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Before(s.lastServer) {
		now = s.lastServer
	}
	s.lastServer = now
	return now
}
