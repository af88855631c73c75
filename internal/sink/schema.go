package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// schemaVersion tracks the column list. Bump it when the known-column set
// changes so operators can tell which template generation an index carries.
const schemaVersion = 1

// Initialize applies the index template and pre-creates the current month's
// index. It is idempotent and must complete before the worker starts
// consuming.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}

	if err := c.ensureIndex(ctx, IndexName(c.config.IndexPrefix, time.Now())); err != nil {
		return fmt.Errorf("failed to create initial index: %w", err)
	}

	return nil
}

func (c *Client) createIndexTemplate(ctx context.Context) error {
	template := map[string]interface{}{
		"index_patterns": []string{c.config.IndexPrefix + "-*"},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   c.config.ShardCount,
				"number_of_replicas": c.config.ReplicaCount,
				"codec":              "best_compression",
				// Physical sort order: per-project time range scans read
				// contiguous segments.
				"sort.field": []string{"project_id", "event_time"},
				"sort.order": []string{"asc", "asc"},
			},
			"mappings": c.getEventMappings(),
		},
		"priority": 100,
		"version":  schemaVersion,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := c.client.Indices.PutIndexTemplate(
		c.config.IndexPrefix+"-template",
		bytes.NewReader(body),
		c.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(bodyBytes))
	}

	return nil
}

func (c *Client) getEventMappings() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	date := map[string]interface{}{"type": "date"}
	integer := map[string]interface{}{"type": "integer"}

	return map[string]interface{}{
		"dynamic": "strict",
		"properties": map[string]interface{}{
			"event_id":   keyword,
			"project_id": keyword,
			"event":      keyword,

			"session_id": keyword,
			"user_id":    keyword,
			"page_url":   keyword,
			"referrer":   keyword,

			"event_time":  date,
			"server_time": date,

			"ip":      keyword,
			"country": keyword,
			"region":  keyword,
			"city":    keyword,

			"browser":         keyword,
			"browser_version": keyword,
			"os":              keyword,
			"device_type":     keyword,
			"language":        keyword,

			"viewport_w": integer,
			"viewport_h": integer,

			"utm_source":   keyword,
			"utm_medium":   keyword,
			"utm_campaign": keyword,
			"utm_term":     keyword,
			"utm_content":  keyword,

			// Opaque client properties, serialized JSON. Not indexed.
			"props": map[string]interface{}{
				"type":  "text",
				"index": false,
			},
		},
	}
}
