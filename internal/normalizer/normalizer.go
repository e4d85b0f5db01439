// Package normalizer parses the CRM's webhook payload variants into the
// canonical WebhookEvent. Format detection is automatic: the registry asks
// each normalizer in priority order whether it recognizes the decoded payload.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memograph-systems/crmsync/internal/models"
)

// Normalizer maps one known payload shape onto the canonical event.
type Normalizer interface {
	Name() string
	Detect(payload map[string]interface{}) bool
	Normalize(payload map[string]interface{}) (*models.WebhookEvent, error)
}

// Hint carries per-delivery metadata available outside the body.
type Hint struct {
	// EventID is the optional X-Webhook-Event-Id header, used when the body
	// carries no event id of its own.
	EventID string

	// RawSignature is the signature header value, retained on the event for
	// audit.
	RawSignature string
}

// Registry holds ordered normalizers and drives the full normalization step.
type Registry struct {
	items []Normalizer
}

// NewRegistry builds the default registry: the notification format (newer
// CRM notification API), the workflow format (older webhook rules), and a
// generic fallback, tried in that order.
func NewRegistry() *Registry {
	return &Registry{items: []Normalizer{
		&NotificationNormalizer{},
		&WorkflowNormalizer{},
		&GenericNormalizer{},
	}}
}

// Normalize decodes the raw body, routes it to the first matching format and
// finalizes the canonical event: module/operation validation, event id
// resolution and the full-resync flag for updates without known fields.
func (r *Registry) Normalize(body []byte, hint Hint, now time.Time) (*models.WebhookEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var match Normalizer
	for _, n := range r.items {
		if n.Detect(payload) {
			match = n
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("unrecognized payload shape")
	}

	event, err := match.Normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", match.Name(), err)
	}

	if !models.KnownModule(event.Module) {
		return nil, fmt.Errorf("unknown module %q", event.Module)
	}
	if len(event.RecordIDs) == 0 {
		return nil, fmt.Errorf("no record ids in payload")
	}

	if event.EventID == "" {
		event.EventID = hint.EventID
	}
	if event.EventID == "" {
		event.EventID = deterministicEventID(event, sourceTimestamp(payload))
	}

	// Updates with no reported field changes fall back to a full record
	// resync instead of partial-field logic.
	if event.EventType == models.EventUpdate && len(event.ModifiedFields) == 0 {
		event.FullResync = true
	}

	event.ReceivedAt = now.UTC()
	event.RawSignature = hint.RawSignature

	return event, nil
}

// deterministicEventID derives a substitute id so that identical redeliveries
// of an event without a source id still map to the same dedup key.
func deterministicEventID(event *models.WebhookEvent, sourceTime string) string {
	fields := append([]string(nil), event.ModifiedFields...)
	sort.Strings(fields)

	seed := strings.Join([]string{
		event.Module,
		string(event.EventType),
		strings.Join(event.RecordIDs, ","),
		strings.Join(fields, ","),
		sourceTime,
	}, "|")

	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// sourceTimestamp pulls a CRM-reported time out of the payload when one is
// present, for use in the deterministic id. Receive time is deliberately not
// used: it differs between redeliveries.
func sourceTimestamp(payload map[string]interface{}) string {
	for _, key := range []string{"server_time", "timestamp", "triggered_at", "time"} {
		switch v := payload[key].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// stringValue returns the first present key as a string.
func stringValue(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok {
			return s
		}
	}
	return ""
}

// stringList accepts either a JSON array of strings or a comma separated
// string, both of which appear across webhook format versions.
func stringList(value interface{}) []string {
	switch v := value.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
