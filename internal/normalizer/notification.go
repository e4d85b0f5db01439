package normalizer

import (
	"fmt"

	"github.com/memograph-systems/crmsync/internal/models"
)

// NotificationNormalizer handles the CRM's notification API format: an
// envelope with module_api_name, an ids array and a data object holding the
// reported field values.
type NotificationNormalizer struct{}

func (NotificationNormalizer) Name() string { return "notification" }

func (NotificationNormalizer) Detect(payload map[string]interface{}) bool {
	_, hasModule := payload["module_api_name"]
	_, hasIDs := payload["ids"]
	return hasModule && hasIDs
}

func (NotificationNormalizer) Normalize(payload map[string]interface{}) (*models.WebhookEvent, error) {
	module := stringValue(payload, "module_api_name")
	if module == "" {
		return nil, fmt.Errorf("missing module_api_name")
	}

	op := stringValue(payload, "operation")
	eventType, err := models.ParseEventType(op)
	if err != nil {
		return nil, err
	}

	data, _ := payload["data"].(map[string]interface{})

	return &models.WebhookEvent{
		EventID:        stringValue(payload, "event_id"),
		Module:         module,
		EventType:      eventType,
		RecordIDs:      stringList(payload["ids"]),
		ModifiedFields: stringList(payload["affected_fields"]),
		Payload:        data,
		Actor:          stringValue(payload, "user_id"),
	}, nil
}
