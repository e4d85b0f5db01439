// Package adapters routes normalized events to downstream sync calls. The
// memory model downstream is keyed by account, so child and activity modules
// resolve their parent account and sync that, never the child record itself.
package adapters

import (
	"context"
	"fmt"

	"github.com/memograph-systems/crmsync/internal/models"
)

// SyncClient is the downstream memory service contract.
type SyncClient interface {
	Sync(ctx context.Context, entityType, entityID string, payload map[string]interface{}, forced bool) error
}

// Adapter maps one CRM module's events onto sync calls.
type Adapter interface {
	Module() string
	Sync(ctx context.Context, event models.WebhookEvent) error
}

// Registry resolves the adapter responsible for a module.
type Registry struct {
	items map[string]Adapter
}

// NewRegistry wires the full module set. criticalFields configures which
// account fields force a sync when modified.
func NewRegistry(client SyncClient, criticalFields []string) *Registry {
	r := &Registry{items: make(map[string]Adapter)}
	r.Register(NewAccountAdapter(client, criticalFields))
	r.Register(NewRelatedAdapter(models.ModuleContacts, client, "Account_Name", "Account_Id"))
	r.Register(NewRelatedAdapter(models.ModuleDeals, client, "Account_Name", "Account_Id"))
	r.Register(NewRelatedAdapter(models.ModuleTasks, client, "What_Id"))
	r.Register(NewRelatedAdapter(models.ModuleActivities, client, "What_Id"))
	r.Register(NewRelatedAdapter(models.ModuleNotes, client, "Parent_Id"))
	return r
}

// Register adds or replaces the adapter for its module.
func (r *Registry) Register(a Adapter) {
	r.items[a.Module()] = a
}

// Resolve returns the adapter for the module. Unregistered modules are a
// permanent failure so coverage gaps surface in the dead letter stream
// instead of disappearing as silent no-ops.
func (r *Registry) Resolve(module string) (Adapter, error) {
	a, ok := r.items[module]
	if !ok {
		return nil, models.Permanent(fmt.Errorf("no adapter registered for module %q", module))
	}
	return a, nil
}

// syncPayload builds the payload snapshot passed downstream. Every sync is a
// full-record refresh, which keeps processing idempotent and order
// insensitive; deletes carry an explicit marker.
func syncPayload(event models.WebhookEvent) map[string]interface{} {
	payload := make(map[string]interface{}, len(event.Payload)+1)
	for k, v := range event.Payload {
		payload[k] = v
	}
	if event.EventType == models.EventDelete {
		payload["deleted"] = true
	}
	return payload
}
