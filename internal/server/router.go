package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memograph-systems/crmsync/internal/handlers"
	"github.com/memograph-systems/crmsync/internal/middleware"
)

// NewRouter constructs a ServeMux with the pipeline routes registered.
func NewRouter(h *handlers.WebhookHandler, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	// Webhook receiver
	mux.HandleFunc("/webhooks/crm", h.HandleWebhook)

	// Operational endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/metrics", h.Metrics)
	mux.Handle("/metrics/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Dead letter administration
	mux.HandleFunc("/dlq", h.ListDeadLetters)
	mux.HandleFunc("/dlq/reprocess", h.ReprocessDeadLetters)

	return middleware.RequestID(mux)
}
