// Package memoryclient talks to the downstream memory/knowledge service. The
// pipeline treats the service as a black box beyond this call contract and
// its timeout.
package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/memograph-systems/crmsync/internal/models"
)

// Client issues sync calls against the memory service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a new Client with a per-call timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type syncRequest struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Forced     bool                   `json:"forced"`
}

// Sync refreshes the entity downstream. forced bypasses the memory service's
// staleness/debounce optimization. Errors are classified: network failures,
// timeouts, 429 and 5xx are transient; any other non-2xx is permanent.
func (c *Client) Sync(ctx context.Context, entityType, entityID string, payload map[string]interface{}, forced bool) error {
	if c == nil {
		return models.Permanent(fmt.Errorf("memory client not configured"))
	}

	body, err := json.Marshal(syncRequest{
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Forced:     forced,
	})
	if err != nil {
		return models.Permanent(fmt.Errorf("marshal sync request: %w", err))
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/memory/sync", bytes.NewReader(body))
	if err != nil {
		return models.Permanent(fmt.Errorf("build request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return models.Transient(fmt.Errorf("send sync request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return models.Transient(fmt.Errorf("memory service status %d", resp.StatusCode))
	default:
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return models.Permanent(fmt.Errorf("memory service status %d: %s", resp.StatusCode, errBody["message"]))
	}
}
