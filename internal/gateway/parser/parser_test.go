package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_SingleObject(t *testing.T) {
	res, err := ParseJSON([]byte(`{"event":"pageview","project_id":"p1"}`))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "pageview", res.Events[0]["event"])
	assert.Zero(t, res.ParseErrors)
}

func TestParseJSON_Array(t *testing.T) {
	res, err := ParseJSON([]byte(`[{"event":"a"},{"event":"b"},{"event":"c"}]`))
	require.NoError(t, err)
	assert.Len(t, res.Events, 3)
}

func TestParseJSON_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "   \n  "},
		{"scalar", `"just a string"`},
		{"number", "42"},
		{"truncated object", `{"event":`},
		{"truncated array", `[{"event":"a"},`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tc.body))
			assert.Error(t, err)
		})
	}
}

func TestParseNDJSON_IndependentLines(t *testing.T) {
	body := `{"event":"pageview","project_id":"p1"}
not json at all
{"event":"click","project_id":"p1"}

{"broken":
{"event":"scroll","project_id":"p1"}`

	res := ParseNDJSON([]byte(body))
	assert.Len(t, res.Events, 3)
	assert.Equal(t, 2, res.ParseErrors)
}

func TestParseNDJSON_AllMalformed(t *testing.T) {
	res := ParseNDJSON([]byte("garbage\nmore garbage"))
	assert.Empty(t, res.Events)
	assert.Equal(t, 2, res.ParseErrors)
}

func TestParseNDJSON_TrailingNewline(t *testing.T) {
	res := ParseNDJSON([]byte("{\"event\":\"pageview\"}\n"))
	assert.Len(t, res.Events, 1)
	assert.Zero(t, res.ParseErrors)
}
