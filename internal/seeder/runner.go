package seeder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Config drives one seeding run.
type Config struct {
	CollectorURL string
	ProjectID    string
	Count        int
	BatchSize    int
	TimeSpread   time.Duration
	Sessions     int
}

// Runner sends generated events to a collector.
type Runner struct {
	cfg        Config
	httpClient *http.Client
}

// NewRunner builds a runner with defaults filled in.
func NewRunner(cfg Config) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Sessions <= 0 {
		cfg.Sessions = 10
	}
	return &Runner{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Run generates and sends all events, batching requests. Returns the number
// of events the collector accepted.
func (r *Runner) Run() (int, error) {
	sessions := make([]*Session, r.cfg.Sessions)
	for i := range sessions {
		sessions[i] = NewSession()
	}

	accepted := 0
	var batch []map[string]any
	for i := 0; i < r.cfg.Count; i++ {
		s := sessions[gofakeit.Number(0, len(sessions)-1)]
		batch = append(batch, s.GenerateEvent(r.cfg.ProjectID, i, r.cfg.Count, r.cfg.TimeSpread))

		if len(batch) >= r.cfg.BatchSize {
			n, err := r.sendBatch(batch)
			if err != nil {
				return accepted, err
			}
			accepted += n
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		n, err := r.sendBatch(batch)
		if err != nil {
			return accepted, err
		}
		accepted += n
	}

	return accepted, nil
}

func (r *Runner) sendBatch(events []map[string]any) (int, error) {
	body, err := json.Marshal(events)
	if err != nil {
		return 0, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, r.cfg.CollectorURL+"/e", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("collector returned status %d: %s", resp.StatusCode, raw)
	}

	var result struct {
		Accepted int `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Accepted, nil
}
