package sink

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Row is one persisted event with the fixed known-column set. Anything the
// client sent outside these columns survives only inside the serialized
// props column.
type Row struct {
	EventID   string `json:"event_id"`
	ProjectID string `json:"project_id"`
	Event     string `json:"event"`

	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	PageURL   string `json:"page_url"`
	Referrer  string `json:"referrer"`

	EventTime  time.Time `json:"event_time"`
	ServerTime time.Time `json:"server_time"`

	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`

	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	DeviceType     string `json:"device_type"`
	Language       string `json:"language"`

	ViewportW int `json:"viewport_w"`
	ViewportH int `json:"viewport_h"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`

	Props string `json:"props"`
}

// FromMap builds a Row from a decoded message payload, applying the
// deterministic coercions: timestamps normalized to UTC (epoch-zero
// sentinel when unparseable, never null), viewport dimensions to
// non-negative integers (0 default), everything else to string ("" when
// absent). A missing event_id gets a fresh UUID so the document id is
// always usable.
func FromMap(m map[string]any) *Row {
	row := &Row{
		EventID:   coerceString(m["event_id"]),
		ProjectID: coerceString(m["project_id"]),
		Event:     coerceString(m["event"]),

		SessionID: coerceString(m["session_id"]),
		UserID:    coerceString(m["user_id"]),
		PageURL:   coerceString(m["page_url"]),
		Referrer:  coerceString(m["referrer"]),

		EventTime:  coerceTime(m["event_time"]),
		ServerTime: coerceTime(m["server_time"]),

		IP:      coerceString(m["ip"]),
		Country: coerceString(m["country"]),
		Region:  coerceString(m["region"]),
		City:    coerceString(m["city"]),

		Browser:        coerceString(m["browser"]),
		BrowserVersion: coerceString(m["browser_version"]),
		OS:             coerceString(m["os"]),
		DeviceType:     coerceString(m["device_type"]),
		Language:       coerceString(m["language"]),

		ViewportW: coerceViewport(m["viewport_w"]),
		ViewportH: coerceViewport(m["viewport_h"]),

		UTMSource:   coerceString(m["utm_source"]),
		UTMMedium:   coerceString(m["utm_medium"]),
		UTMCampaign: coerceString(m["utm_campaign"]),
		UTMTerm:     coerceString(m["utm_term"]),
		UTMContent:  coerceString(m["utm_content"]),

		Props: coerceProps(m["props"]),
	}

	if row.EventID == "" {
		row.EventID = uuid.NewString()
	}

	return row
}

// coerceString converts any scalar to its string form; nil and non-scalars
// become "".
func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// coerceViewport converts to a non-negative int, defaulting to 0 on missing
// or invalid values.
func coerceViewport(v any) int {
	var n float64
	switch val := v.(type) {
	case float64:
		n = val
	case int:
		n = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		n = f
	default:
		return 0
	}

	if math.IsNaN(n) || n < 0 {
		return 0
	}
	// Clamp absurd values; the index maps viewports as 32-bit integers and a
	// float past the int range would otherwise convert to a huge negative.
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// epochZero is the sentinel for unparseable timestamps: the column is never
// null, so downstream range scans stay simple.
var epochZero = time.Unix(0, 0).UTC()

// millisThreshold distinguishes millisecond epochs from second epochs.
// 1e11 seconds is year 5138; any numeric value at or above it is
// milliseconds.
const millisThreshold = 1e11

var stringTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceTime accepts ms-epoch, second-epoch, or a parseable date string and
// normalizes to UTC, falling back to the epoch-zero sentinel.
func coerceTime(v any) time.Time {
	switch val := v.(type) {
	case float64:
		return epochToTime(val)
	case int64:
		return epochToTime(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return epochZero
		}
		return epochToTime(f)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return epochZero
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f)
		}
		for _, layout := range stringTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return epochZero
	case time.Time:
		return val.UTC()
	default:
		return epochZero
	}
}

func epochToTime(n float64) time.Time {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return epochZero
	}
	if n >= millisThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

// coerceProps serializes the opaque props map; "" when absent or empty.
func coerceProps(v any) string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
