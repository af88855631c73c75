package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagebeat/pagebeat/internal/gateway/handlers"
	"github.com/pagebeat/pagebeat/internal/middleware"
)

// NewRouter constructs a ServeMux with collector routes registered.
func NewRouter(h *handlers.CollectHandler) http.Handler {
	mux := http.NewServeMux()

	// Event ingestion
	mux.Handle("/e", h)

	// Health endpoint
	mux.HandleFunc("/healthz", h.Health)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
