package adapters

import (
	"context"
	"fmt"

	"github.com/memograph-systems/crmsync/internal/models"
)

// RelatedAdapter handles modules whose records hang off a primary account:
// contacts and deals reference it through an account lookup, tasks and
// activities through What_Id, notes through Parent_Id. The adapter extracts
// the reference and syncs the parent account, since that is what the
// downstream memory model is keyed by.
type RelatedAdapter struct {
	module    string
	client    SyncClient
	refFields []string
}

func NewRelatedAdapter(module string, client SyncClient, refFields ...string) *RelatedAdapter {
	return &RelatedAdapter{module: module, client: client, refFields: refFields}
}

func (a *RelatedAdapter) Module() string { return a.module }

func (a *RelatedAdapter) Sync(ctx context.Context, event models.WebhookEvent) error {
	parentID := parentReference(event.Payload, a.refFields...)
	if parentID == "" {
		return models.Permanent(fmt.Errorf("%s event %s carries no parent account reference (looked at %v)",
			a.module, event.EventID, a.refFields))
	}

	// The parent is refreshed in full; forcing is an account-field concern
	// and never applies to child-driven syncs.
	return a.client.Sync(ctx, "account", parentID, syncPayload(event), false)
}

// parentReference digs the referenced record id out of the payload. CRM
// lookup fields appear either as objects with an id, or as plain id strings.
func parentReference(payload map[string]interface{}, fields ...string) string {
	for _, field := range fields {
		switch v := payload[field].(type) {
		case map[string]interface{}:
			if id, ok := v["id"].(string); ok && id != "" {
				return id
			}
		case string:
			if v != "" {
				return v
			}
		}
	}
	return ""
}
