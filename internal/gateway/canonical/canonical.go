// Package canonical projects validated raw events onto the fixed canonical
// schema. Recognized keys become typed fields; everything else moves
// verbatim into props.
package canonical

import (
	"github.com/google/uuid"

	"github.com/pagebeat/pagebeat/internal/gateway/enrich"
	"github.com/pagebeat/pagebeat/internal/gateway/validator"
	"github.com/pagebeat/pagebeat/internal/models"
)

// knownKeys is the fixed set of raw-event keys with a canonical field.
// Any other key lands in props.
var knownKeys = map[string]struct{}{
	"event":        {},
	"project_id":   {},
	"event_time":   {},
	"session_id":   {},
	"user_id":      {},
	"page_url":     {},
	"referrer":     {},
	"language":     {},
	"viewport_w":   {},
	"viewport_h":   {},
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
}

// Canonicalize builds a CanonicalEvent from a validated raw event and its
// enrichment. A fresh unique event_id is generated on every call.
// serverTimeMillis must be the request's server_time in epoch milliseconds.
func Canonicalize(raw models.RawEvent, enr enrich.Enrichment, serverTimeMillis int64) *models.CanonicalEvent {
	eventTime, _ := validator.EventTimeMillis(raw)

	ev := &models.CanonicalEvent{
		EventID:    uuid.NewString(),
		ProjectID:  stringKey(raw, "project_id"),
		Event:      stringKey(raw, "event"),
		SessionID:  stringKey(raw, "session_id"),
		UserID:     stringKey(raw, "user_id"),
		PageURL:    stringKey(raw, "page_url"),
		Referrer:   stringKey(raw, "referrer"),
		EventTime:  eventTime,
		ServerTime: serverTimeMillis,

		IP:      enr.ClientIP,
		Country: enr.Country,
		Region:  enr.Region,
		City:    enr.City,

		Browser:        enr.Browser,
		BrowserVersion: enr.BrowserVersion,
		OS:             enr.OS,
		DeviceType:     enr.DeviceType,
		Language:       stringKey(raw, "language"),

		ViewportW: raw["viewport_w"],
		ViewportH: raw["viewport_h"],

		UTMSource:   stringKey(raw, "utm_source"),
		UTMMedium:   stringKey(raw, "utm_medium"),
		UTMCampaign: stringKey(raw, "utm_campaign"),
		UTMTerm:     stringKey(raw, "utm_term"),
		UTMContent:  stringKey(raw, "utm_content"),
	}

	// Client-supplied language wins; Accept-Language is the fallback.
	if ev.Language == "" {
		ev.Language = enr.Language
	}

	for key, value := range raw {
		if _, known := knownKeys[key]; known {
			continue
		}
		if ev.Props == nil {
			ev.Props = make(map[string]any)
		}
		ev.Props[key] = value
	}

	return ev
}

func stringKey(raw models.RawEvent, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}
