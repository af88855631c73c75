// Package handlers provides the HTTP handlers for the collector.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/pagebeat/pagebeat/internal/gateway/enrich"
	"github.com/pagebeat/pagebeat/internal/gateway/parser"
	"github.com/pagebeat/pagebeat/internal/gateway/service"
	"github.com/pagebeat/pagebeat/internal/logging"
	"github.com/pagebeat/pagebeat/internal/metrics"
	"github.com/pagebeat/pagebeat/internal/models"
	"github.com/pagebeat/pagebeat/internal/ratelimit"
)

// Ingester is the service surface the handler needs.
type Ingester interface {
	Ingest(ctx context.Context, events []models.RawEvent, parseErrors int, enr enrich.Enrichment) (*service.BatchResult, error)
}

// CollectHandler accepts event batches over HTTP.
type CollectHandler struct {
	service      Ingester
	limiter      ratelimit.RateLimiter
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewCollectHandler builds the handler.
func NewCollectHandler(svc Ingester, limiter ratelimit.RateLimiter, maxBodyBytes int64, logger *slog.Logger) *CollectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &CollectHandler{
		service:      svc,
		limiter:      limiter,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

type collectResponse struct {
	OK          bool   `json:"ok"`
	Accepted    int    `json:"accepted"`
	Rejected    int    `json:"rejected"`
	ParseErrors int    `json:"parseErrors,omitempty"`
	Dropped     int    `json:"dropped,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ServeHTTP handles POST /e.
func (h *CollectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, collectResponse{Error: "method not allowed"})
		return
	}

	enr := enrich.FromRequest(r)

	allowed, err := h.limiter.Allow(ctx, enr.ClientIP)
	if err != nil {
		h.logger.WarnContext(ctx, "rate limiter unavailable", logging.Error(err))
	} else if !allowed {
		writeJSON(w, http.StatusTooManyRequests, collectResponse{Error: "rate limit exceeded"})
		return
	}

	contentType := r.Header.Get("Content-Type")
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	var parse func([]byte) *parser.Result
	switch {
	case mediaType == "" || mediaType == "application/json":
		parse = nil
	case mediaType == "application/x-ndjson" || strings.HasPrefix(mediaType, "text/"):
		parse = parser.ParseNDJSON
	default:
		writeJSON(w, http.StatusUnsupportedMediaType, collectResponse{Error: "unsupported content type"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, collectResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, collectResponse{Error: "failed to read request body"})
		return
	}
	metrics.EventBytesTotal.Add(float64(len(body)))

	// An empty body is a client error for every content type; NDJSON parsing
	// would otherwise report it as an empty-but-ok batch.
	if len(strings.TrimSpace(string(body))) == 0 {
		writeJSON(w, http.StatusBadRequest, collectResponse{Error: "empty request body"})
		return
	}

	var result *parser.Result
	if parse != nil {
		result = parse(body)
	} else {
		var perr error
		result, perr = parser.ParseJSON(body)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, collectResponse{Error: "invalid JSON payload"})
			return
		}
	}

	batch, err := h.service.Ingest(ctx, result.Events, result.ParseErrors, enr)
	if err != nil {
		h.logger.ErrorContext(ctx, "ingest failed", logging.Error(err), logging.IP(enr.ClientIP))
		writeJSON(w, http.StatusServiceUnavailable, collectResponse{Error: "event pipeline unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, collectResponse{
		OK:          true,
		Accepted:    batch.Accepted,
		Rejected:    batch.Rejected,
		ParseErrors: batch.ParseErrors,
		Dropped:     batch.Dropped,
		Reason:      batch.Reason,
	})
}

// Health answers liveness probes.
func (h *CollectHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"service": "collector",
	})
}

func writeJSON(w http.ResponseWriter, status int, body collectResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
