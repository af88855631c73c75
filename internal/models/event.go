package models

import (
	"encoding/json"
	"time"
)

// RawEvent is a client-submitted event as decoded from the request body.
// Keys are arbitrary; validation decides what is usable.
type RawEvent map[string]any

// CanonicalEvent is the fixed-schema projection of an enriched event.
// Unknown keys from the raw event are carried verbatim in Props.
// EventID is unique per canonicalization; times are epoch milliseconds.
type CanonicalEvent struct {
	EventID   string `json:"event_id"`
	ProjectID string `json:"project_id"`
	Event     string `json:"event"`

	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	PageURL   string `json:"page_url,omitempty"`
	Referrer  string `json:"referrer,omitempty"`

	EventTime  int64 `json:"event_time"`
	ServerTime int64 `json:"server_time"`

	IP      string `json:"ip,omitempty"`
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`

	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	Language       string `json:"language,omitempty"`

	// Viewport dimensions arrive in whatever type the client sent;
	// the sink coerces them to non-negative integers.
	ViewportW any `json:"viewport_w,omitempty"`
	ViewportH any `json:"viewport_h,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`

	Props map[string]any `json:"props,omitempty"`
}

// RetryMeta carries retry bookkeeping for a failed delivery. It is embedded
// in the envelope body so the count survives even if transport headers are
// stripped somewhere along the way.
type RetryMeta struct {
	RetryCount   int       `json:"retry_count"`
	LastError    string    `json:"last_error"`
	LastFailedAt time.Time `json:"last_failed_at"`
	NotBefore    time.Time `json:"not_before"`
}

// RetryEnvelope wraps the original message payload with retry bookkeeping.
// Payload is kept as raw bytes so the original message is preserved verbatim.
type RetryEnvelope struct {
	Payload json.RawMessage `json:"event"`
	Meta    RetryMeta       `json:"__retry_meta"`
}

// DeadLetterRecord is the terminal form of an undeliverable message.
// It preserves the original payload plus full failure context and is never
// retried automatically; replay is a manual operation.
type DeadLetterRecord struct {
	Original   json.RawMessage `json:"original"`
	LastError  string          `json:"last_error"`
	FailedAt   time.Time       `json:"failed_at"`
	RetryCount int             `json:"retry_count"`
}
