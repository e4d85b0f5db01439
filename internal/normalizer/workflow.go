package normalizer

import (
	"fmt"

	"github.com/memograph-systems/crmsync/internal/models"
)

// workflowMetaKeys are envelope fields of the workflow format; everything else
// in the flat payload is a reported record field value.
var workflowMetaKeys = map[string]bool{
	"module":          true,
	"operation":       true,
	"id":              true,
	"modified_fields": true,
	"user":            true,
	"token":           true,
	"triggered_at":    true,
}

// WorkflowNormalizer handles the older workflow-rule webhook format: a flat
// JSON object with the record's field values at the top level next to the
// envelope fields.
type WorkflowNormalizer struct{}

func (WorkflowNormalizer) Name() string { return "workflow" }

func (WorkflowNormalizer) Detect(payload map[string]interface{}) bool {
	_, hasModule := payload["module"]
	_, hasOp := payload["operation"]
	return hasModule && hasOp
}

func (WorkflowNormalizer) Normalize(payload map[string]interface{}) (*models.WebhookEvent, error) {
	module := stringValue(payload, "module")
	if module == "" {
		return nil, fmt.Errorf("missing module")
	}

	eventType, err := models.ParseEventType(stringValue(payload, "operation"))
	if err != nil {
		return nil, err
	}

	var recordIDs []string
	if id := stringValue(payload, "id"); id != "" {
		recordIDs = []string{id}
	}

	fields := make(map[string]interface{})
	for key, value := range payload {
		if !workflowMetaKeys[key] {
			fields[key] = value
		}
	}

	return &models.WebhookEvent{
		Module:         module,
		EventType:      eventType,
		RecordIDs:      recordIDs,
		ModifiedFields: stringList(payload["modified_fields"]),
		Payload:        fields,
		Actor:          stringValue(payload, "user"),
	}, nil
}
