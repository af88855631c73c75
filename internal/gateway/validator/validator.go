// Package validator applies per-event structural checks before enrichment.
package validator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagebeat/pagebeat/internal/models"
)

// MaxClockSkew bounds how far an event_time may drift from server time in
// either direction before the event is rejected.
const MaxClockSkew = 7 * 24 * time.Hour

// Rejection reason codes. Each maps to one distinct validation failure so
// callers can count rejections per cause.
const (
	ReasonMissingEvent        = "missing_event"
	ReasonMissingProjectID    = "missing_project_id"
	ReasonInvalidEventTime    = "invalid_event_time"
	ReasonEventTimeOutOfRange = "event_time_out_of_range"
)

// ValidationError reports why a single event was rejected. Other events in
// the same batch are unaffected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event rejected: %s", e.Reason)
}

// Validate checks one raw event against the required-field contract:
// event must be a non-empty string, project_id a non-empty string, and
// event_time a number within ±MaxClockSkew of now (epoch milliseconds).
func Validate(ev models.RawEvent, now time.Time) error {
	name, ok := ev["event"].(string)
	if !ok || name == "" {
		return &ValidationError{Reason: ReasonMissingEvent}
	}

	project, ok := ev["project_id"].(string)
	if !ok || project == "" {
		return &ValidationError{Reason: ReasonMissingProjectID}
	}

	ms, ok := EventTimeMillis(ev)
	if !ok {
		return &ValidationError{Reason: ReasonInvalidEventTime}
	}

	eventTime := time.UnixMilli(ms)
	if eventTime.Before(now.Add(-MaxClockSkew)) || eventTime.After(now.Add(MaxClockSkew)) {
		return &ValidationError{Reason: ReasonEventTimeOutOfRange}
	}

	return nil
}

// EventTimeMillis extracts event_time as epoch milliseconds. JSON numbers
// decode as float64; json.Number is handled for callers using UseNumber.
func EventTimeMillis(ev models.RawEvent) (int64, bool) {
	switch v := ev["event_time"].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
