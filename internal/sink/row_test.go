package sink

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap_FullEvent(t *testing.T) {
	row := FromMap(map[string]any{
		"event_id":    "ev-1",
		"project_id":  "p1",
		"event":       "pageview",
		"event_time":  float64(1700000000000),
		"server_time": float64(1700000000500),
		"page_url":    "https://example.com/",
		"viewport_w":  float64(1920),
		"viewport_h":  float64(1080),
		"props":       map[string]any{"target": "#cta"},
	})

	assert.Equal(t, "ev-1", row.EventID)
	assert.Equal(t, "p1", row.ProjectID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), row.EventTime)
	assert.Equal(t, time.UnixMilli(1700000000500).UTC(), row.ServerTime)
	assert.Equal(t, 1920, row.ViewportW)
	assert.Equal(t, 1080, row.ViewportH)

	var props map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Props), &props))
	assert.Equal(t, "#cta", props["target"])
}

func TestFromMap_MissingEventIDGenerated(t *testing.T) {
	a := FromMap(map[string]any{"event": "pageview"})
	b := FromMap(map[string]any{"event": "pageview"})

	assert.NotEmpty(t, a.EventID)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestCoerceTime(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want time.Time
	}{
		{"millis epoch", float64(1700000000000), time.UnixMilli(1700000000000).UTC()},
		{"seconds epoch", float64(1700000000), time.Unix(1700000000, 0).UTC()},
		{"numeric string", "1700000000000", time.UnixMilli(1700000000000).UTC()},
		{"rfc3339", "2023-11-14T22:13:20Z", time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
		{"date only", "2023-11-14", time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)},
		{"garbage string", "not a time", epochZero},
		{"empty string", "", epochZero},
		{"nil", nil, epochZero},
		{"negative", float64(-5), epochZero},
		{"bool", true, epochZero},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, coerceTime(tc.in))
		})
	}
}

func TestCoerceViewport(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int
	}{
		{"float", float64(1366), 1366},
		{"string number", "768", 768},
		{"negative clamped", float64(-100), 0},
		{"garbage", "wide", 0},
		{"nil", nil, 0},
		{"fractional truncated", float64(1366.7), 1366},
		{"overflow clamped", float64(1e30), math.MaxInt32},
		{"max int32 kept", float64(math.MaxInt32), math.MaxInt32},
		{"just past int range", float64(math.MaxInt64) * 2, math.MaxInt32},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, coerceViewport(tc.in))
		})
	}
}

func TestCoerceString(t *testing.T) {
	assert.Equal(t, "hello", coerceString("hello"))
	assert.Equal(t, "42", coerceString(float64(42)))
	assert.Equal(t, "true", coerceString(true))
	assert.Equal(t, "", coerceString(nil))
	assert.Equal(t, "", coerceString([]any{"x"}))
}

func TestCoerceProps(t *testing.T) {
	assert.Equal(t, "", coerceProps(nil))
	assert.Equal(t, "", coerceProps(map[string]any{}))
	assert.Equal(t, "", coerceProps("not a map"))
	assert.JSONEq(t, `{"a":1}`, coerceProps(map[string]any{"a": float64(1)}))
}
