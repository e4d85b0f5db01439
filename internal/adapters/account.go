package adapters

import (
	"context"
	"fmt"

	"github.com/memograph-systems/crmsync/internal/models"
)

// AccountAdapter syncs account records directly. Updates touching a critical
// field (status, health score, owner, revenue, type, industry by default) are
// forced: these fields materially change downstream decisions, so the sync
// bypasses any staleness/debounce optimization.
type AccountAdapter struct {
	client   SyncClient
	critical map[string]bool
}

func NewAccountAdapter(client SyncClient, criticalFields []string) *AccountAdapter {
	critical := make(map[string]bool, len(criticalFields))
	for _, f := range criticalFields {
		critical[f] = true
	}
	return &AccountAdapter{client: client, critical: critical}
}

func (a *AccountAdapter) Module() string { return models.ModuleAccounts }

func (a *AccountAdapter) Sync(ctx context.Context, event models.WebhookEvent) error {
	if len(event.RecordIDs) == 0 {
		return models.Permanent(fmt.Errorf("account event %s has no record id", event.EventID))
	}

	forced := event.EventType == models.EventUpdate && a.touchesCritical(event.ModifiedFields)

	for _, id := range event.RecordIDs {
		if err := a.client.Sync(ctx, "account", id, syncPayload(event), forced); err != nil {
			return err
		}
	}
	return nil
}

func (a *AccountAdapter) touchesCritical(fields []string) bool {
	for _, f := range fields {
		if a.critical[f] {
			return true
		}
	}
	return false
}
