// Package sink writes canonical events into the columnar analytics store.
//
// Events land in monthly indices (<prefix>-YYYY.MM) whose mapping is fixed
// by an index template applied before the worker starts consuming. Segments
// are sorted by (project_id, event_time) so per-project range scans stay
// cheap. The document id is the event_id, which makes writes idempotent: a
// redelivery after a crash overwrites the same document instead of
// duplicating the row.
package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
)

// Config holds sink connection and layout settings.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
	ShardCount    int
	ReplicaCount  int
}

// Client is the OpenSearch-backed columnar sink.
type Client struct {
	client *opensearch.Client
	config Config

	mu      sync.Mutex
	indices map[string]struct{} // months already ensured
}

// NewClient connects to OpenSearch and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "pagebeat-events"
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return &Client{
		client:  client,
		config:  cfg,
		indices: make(map[string]struct{}),
	}, nil
}

// IndexName returns the monthly index an event belongs to.
func IndexName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, t.UTC().Format("2006.01"))
}

// WriteEvent persists one row, creating the month's index on first use.
// Callers bound the attempt with a context deadline.
func (c *Client) WriteEvent(ctx context.Context, row *Row) error {
	index := IndexName(c.config.IndexPrefix, row.EventTime)

	if err := c.ensureIndex(ctx, index); err != nil {
		return err
	}

	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	res, err := c.client.Index(
		index,
		bytes.NewReader(body),
		c.client.Index.WithDocumentID(row.EventID),
		c.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index event: %s - %s", res.Status(), string(bodyBytes))
	}

	return nil
}

// ensureIndex creates the monthly index if missing. Results are memoized;
// create-if-not-exists keeps concurrent workers safe.
func (c *Client) ensureIndex(ctx context.Context, index string) error {
	c.mu.Lock()
	_, ok := c.indices[index]
	c.mu.Unlock()
	if ok {
		return nil
	}

	exists, err := c.client.Indices.Exists(
		[]string{index},
		c.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	exists.Body.Close()

	if exists.StatusCode != http.StatusOK {
		res, err := c.client.Indices.Create(
			index,
			c.client.Indices.Create.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("create index %s: %w", index, err)
		}
		defer res.Body.Close()

		// Another writer may have won the race; resource_already_exists is fine.
		if res.IsError() && res.StatusCode != http.StatusBadRequest {
			bodyBytes, _ := io.ReadAll(res.Body)
			return fmt.Errorf("create index %s: %s - %s", index, res.Status(), string(bodyBytes))
		}
	}

	c.mu.Lock()
	c.indices[index] = struct{}{}
	c.mu.Unlock()

	return nil
}
