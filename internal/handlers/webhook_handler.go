package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/memograph-systems/crmsync/internal/deadletter"
	"github.com/memograph-systems/crmsync/internal/dedup"
	"github.com/memograph-systems/crmsync/internal/logging"
	"github.com/memograph-systems/crmsync/internal/metrics"
	"github.com/memograph-systems/crmsync/internal/models"
	"github.com/memograph-systems/crmsync/internal/normalizer"
	"github.com/memograph-systems/crmsync/internal/queue"
	"github.com/memograph-systems/crmsync/internal/signature"
)

// Stable rejection reason codes returned to the CRM. Internal errors are
// always mapped onto one of these, never surfaced raw.
const (
	ReasonUnauthorized     = "unauthorized"
	ReasonInvalidPayload   = "invalid_payload"
	ReasonDuplicate        = "duplicate"
	ReasonQueueFull        = "queue_full"
	ReasonDedupUnavailable = "dedup_unavailable"
	ReasonQueueUnavailable = "queue_unavailable"
)

// WebhookResponse is the body returned for every delivery outcome.
type WebhookResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// WebhookHandler composes the signature verifier, normalizer, dedup store and
// ingestion queue into the synchronous receive path, and serves the
// operational endpoints.
type WebhookHandler struct {
	verifier   *signature.Verifier
	normalizer *normalizer.Registry
	dedup      dedup.Store
	queue      queue.Ingestion
	dlq        deadletter.Store
	metrics    *metrics.Pipeline
	log        *logging.Logger

	maxBodyBytes int64
	retryAfter   time.Duration
}

func NewWebhookHandler(
	verifier *signature.Verifier,
	reg *normalizer.Registry,
	dedupStore dedup.Store,
	q queue.Ingestion,
	dlq deadletter.Store,
	m *metrics.Pipeline,
	log *logging.Logger,
	maxBodyBytes int64,
	retryAfter time.Duration,
) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	if retryAfter <= 0 {
		retryAfter = 30 * time.Second
	}
	return &WebhookHandler{
		verifier:     verifier,
		normalizer:   reg,
		dedup:        dedupStore,
		queue:        q,
		dlq:          dlq,
		metrics:      m,
		log:          log,
		maxBodyBytes: maxBodyBytes,
		retryAfter:   retryAfter,
	}
}

// HandleWebhook is the inbound delivery path:
// verify -> normalize -> dedup check-and-set -> enqueue.
// All outcomes answer 200 with a structured body; only transient overload
// (queue full, dedup store down) answers 503 so the CRM redelivers.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, WebhookResponse{Accepted: false, Reason: ReasonInvalidPayload})
		return
	}

	ctx := r.Context()
	h.metrics.IncReceived()

	// The signature is computed over the exact raw bytes received, before
	// any JSON parsing.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.metrics.IncRejected(ReasonInvalidPayload)
		h.writeJSON(w, http.StatusOK, WebhookResponse{Accepted: false, Reason: ReasonInvalidPayload})
		return
	}
	defer r.Body.Close()

	sigHeader := r.Header.Get("X-Webhook-Signature")
	if !h.verifier.Verify(body, sigHeader) {
		h.metrics.IncRejected(ReasonUnauthorized)
		h.log.WithContext(ctx).Warn("webhook rejected: bad signature")
		h.writeJSON(w, http.StatusOK, WebhookResponse{Accepted: false, Reason: ReasonUnauthorized})
		return
	}
	h.metrics.IncVerified()

	hint := normalizer.Hint{
		EventID:      r.Header.Get("X-Webhook-Event-Id"),
		RawSignature: sigHeader,
	}
	event, err := h.normalizer.Normalize(body, hint, time.Now())
	if err != nil {
		h.metrics.IncRejected(ReasonInvalidPayload)
		h.log.WithContext(ctx).Warn("webhook rejected: normalization failed", "error", err)
		h.writeJSON(w, http.StatusOK, WebhookResponse{Accepted: false, Reason: ReasonInvalidPayload})
		return
	}

	// Check-and-set: exactly one of N concurrent deliveries of the same
	// event id wins. The dedup store failing fails closed, the CRM will
	// redeliver.
	first, err := h.dedup.MarkSeen(ctx, event.EventID)
	if err != nil {
		h.metrics.IncRejected(ReasonDedupUnavailable)
		h.log.WithContext(ctx).Error("dedup store unavailable", "error", err)
		h.writeRetryable(w, ReasonDedupUnavailable)
		return
	}
	if !first {
		// Duplicates are acknowledged as success so the CRM stops
		// redelivering them.
		h.metrics.IncDeduplicated()
		h.writeJSON(w, http.StatusOK, WebhookResponse{Accepted: false, Reason: ReasonDuplicate})
		return
	}

	entry := models.NewQueueEntry(*event, time.Now())
	if err := h.queue.Enqueue(ctx, entry); err != nil {
		// Roll the dedup marker back so the redelivery is not misread as
		// a duplicate.
		if forgetErr := h.dedup.Forget(ctx, event.EventID); forgetErr != nil {
			h.log.WithContext(ctx).Error("dedup rollback failed", "error", forgetErr)
		}

		reason := ReasonQueueUnavailable
		if err == queue.ErrQueueFull {
			reason = ReasonQueueFull
		}
		h.metrics.IncRejected(reason)
		h.log.WithContext(ctx).Warn("webhook rejected: enqueue failed", "reason", reason, "error", err)
		h.writeRetryable(w, reason)
		return
	}

	h.metrics.IncQueued()
	h.log.WithContext(ctx).Info("webhook accepted",
		"event_id", event.EventID,
		"module", event.Module,
		"event_type", event.EventType,
	)
	h.writeJSON(w, http.StatusOK, WebhookResponse{Accepted: true})
}

// Health reports queue connectivity and depth.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"
	connected := true
	if err := h.queue.Ping(ctx); err != nil {
		status = "degraded"
		connected = false
	}

	var depth int64
	if connected {
		if d, err := h.queue.Depth(ctx); err == nil {
			depth = d
			h.metrics.SetQueueDepth(d)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"queue_connected": connected,
		"queue_size":      depth,
		"queue_capacity":  h.queue.Capacity(),
		"timestamp":       time.Now().UTC(),
	})
}

// Metrics serves the JSON counter snapshot with derived rates.
func (h *WebhookHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// ListDeadLetters returns up to ?limit dead letter records for inspection.
func (h *WebhookHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	records, err := h.dlq.List(r.Context(), queryLimit(r, 50))
	if err != nil {
		h.log.WithContext(r.Context()).Error("dead letter list failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "dead letter store unavailable"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

// ReprocessDeadLetters re-injects up to ?limit dead letters at the back of
// the ingestion queue with their attempt counts reset.
func (h *WebhookHandler) ReprocessDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ctx := r.Context()
	result, err := h.dlq.Reprocess(ctx, queryLimit(r, 50), func(ctx context.Context, entry models.QueueEntry) error {
		return h.queue.Requeue(ctx, entry)
	})
	if err != nil {
		h.log.WithContext(ctx).Error("dead letter reprocess failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reprocess failed"})
		return
	}

	h.log.WithContext(ctx).Info("dead letters reprocessed",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *WebhookHandler) writeRetryable(w http.ResponseWriter, reason string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
	h.writeJSON(w, http.StatusServiceUnavailable, WebhookResponse{Accepted: false, Reason: reason})
}

func (h *WebhookHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("response encode failed", "error", err)
	}
}

func queryLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
