package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagebeat/pagebeat/internal/gateway/enrich"
	"github.com/pagebeat/pagebeat/internal/models"
)

func TestCanonicalize_KnownFields(t *testing.T) {
	raw := models.RawEvent{
		"event":      "pageview",
		"project_id": "p1",
		"event_time": float64(1700000000000),
		"session_id": "s1",
		"page_url":   "https://example.com/pricing",
		"utm_source": "newsletter",
	}
	enr := enrich.Enrichment{
		ClientIP:   "203.0.113.9",
		Country:    "NL",
		Browser:    "Chrome",
		DeviceType: "desktop",
	}

	ev := Canonicalize(raw, enr, 1700000000500)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "p1", ev.ProjectID)
	assert.Equal(t, "pageview", ev.Event)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, int64(1700000000000), ev.EventTime)
	assert.Equal(t, int64(1700000000500), ev.ServerTime)
	assert.Equal(t, "203.0.113.9", ev.IP)
	assert.Equal(t, "NL", ev.Country)
	assert.Equal(t, "newsletter", ev.UTMSource)
	assert.Nil(t, ev.Props)
}

func TestCanonicalize_UnknownKeysToProps(t *testing.T) {
	raw := models.RawEvent{
		"event":      "click",
		"project_id": "p1",
		"event_time": float64(1700000000000),
		"target":     "#signup-cta",
		"depth_pct":  float64(80),
	}

	ev := Canonicalize(raw, enrich.Enrichment{}, 0)

	assert.Equal(t, "#signup-cta", ev.Props["target"])
	assert.Equal(t, float64(80), ev.Props["depth_pct"])
	assert.NotContains(t, ev.Props, "event")
	assert.NotContains(t, ev.Props, "project_id")
}

func TestCanonicalize_UniqueEventIDs(t *testing.T) {
	raw := models.RawEvent{"event": "pageview", "project_id": "p1", "event_time": float64(1)}

	a := Canonicalize(raw, enrich.Enrichment{}, 0)
	b := Canonicalize(raw, enrich.Enrichment{}, 0)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestCanonicalize_LanguageFallback(t *testing.T) {
	enr := enrich.Enrichment{Language: "en-US"}

	withOwn := Canonicalize(models.RawEvent{"language": "de-DE"}, enr, 0)
	assert.Equal(t, "de-DE", withOwn.Language)

	withoutOwn := Canonicalize(models.RawEvent{}, enr, 0)
	assert.Equal(t, "en-US", withoutOwn.Language)
}

func TestCanonicalize_NonStringTypedFieldIgnored(t *testing.T) {
	raw := models.RawEvent{"event": "pageview", "project_id": float64(42), "event_time": float64(1)}

	ev := Canonicalize(raw, enrich.Enrichment{}, 0)
	assert.Equal(t, "", ev.ProjectID)
}
