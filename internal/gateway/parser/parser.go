// Package parser decodes ingestion request bodies into raw events.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pagebeat/pagebeat/internal/models"
)

// Result holds the events decoded from one request body. ParseErrors counts
// malformed NDJSON lines; a bad line never invalidates its neighbors.
type Result struct {
	Events      []models.RawEvent
	ParseErrors int
}

// ParseJSON decodes an application/json body. A single object is wrapped
// into a one-element batch; an array becomes the batch. Anything else is an
// error (the caller responds 400).
func ParseJSON(body []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	switch trimmed[0] {
	case '{':
		var ev models.RawEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		return &Result{Events: []models.RawEvent{ev}}, nil
	case '[':
		var events []models.RawEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return &Result{Events: events}, nil
	default:
		return nil, fmt.Errorf("body must be a JSON object or array")
	}
}

// ParseNDJSON decodes a newline-delimited body. Each line is parsed
// independently; malformed lines are counted, not fatal.
func ParseNDJSON(body []byte) *Result {
	res := &Result{}

	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var ev models.RawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			res.ParseErrors++
			continue
		}
		res.Events = append(res.Events, ev)
	}

	return res
}
