package normalizer

import (
	"fmt"

	"github.com/memograph-systems/crmsync/internal/models"
)

// GenericNormalizer is the fallback for integrations that already speak the
// canonical vocabulary: module, event_type and record_id(s) with an optional
// payload object.
type GenericNormalizer struct{}

func (GenericNormalizer) Name() string { return "generic" }

func (GenericNormalizer) Detect(payload map[string]interface{}) bool {
	_, hasModule := payload["module"]
	_, hasType := payload["event_type"]
	return hasModule && hasType
}

func (GenericNormalizer) Normalize(payload map[string]interface{}) (*models.WebhookEvent, error) {
	module := stringValue(payload, "module")
	if module == "" {
		return nil, fmt.Errorf("missing module")
	}

	eventType, err := models.ParseEventType(stringValue(payload, "event_type"))
	if err != nil {
		return nil, err
	}

	recordIDs := stringList(payload["record_ids"])
	if len(recordIDs) == 0 {
		if id := stringValue(payload, "record_id"); id != "" {
			recordIDs = []string{id}
		}
	}

	data, _ := payload["payload"].(map[string]interface{})

	return &models.WebhookEvent{
		EventID:        stringValue(payload, "event_id"),
		Module:         module,
		EventType:      eventType,
		RecordIDs:      recordIDs,
		ModifiedFields: stringList(payload["modified_fields"]),
		Payload:        data,
		Actor:          stringValue(payload, "actor"),
	}, nil
}
