package models

import (
	"fmt"
	"time"
)

// EventType enumerates the change kinds a CRM webhook can report.
type EventType string

const (
	EventCreate  EventType = "create"
	EventUpdate  EventType = "update"
	EventDelete  EventType = "delete"
	EventRestore EventType = "restore"
)

// ParseEventType maps source operation names onto the canonical event types.
// Unknown operations are rejected rather than coerced.
func ParseEventType(op string) (EventType, error) {
	switch op {
	case "create", "insert", "Create", "Insert":
		return EventCreate, nil
	case "update", "edit", "Update", "Edit":
		return EventUpdate, nil
	case "delete", "Delete":
		return EventDelete, nil
	case "restore", "undelete", "Restore", "Undelete":
		return EventRestore, nil
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}

// CRM modules the pipeline is registered for. The set is closed: events for
// any other module are rejected at normalization time.
const (
	ModuleAccounts   = "Accounts"
	ModuleContacts   = "Contacts"
	ModuleDeals      = "Deals"
	ModuleTasks      = "Tasks"
	ModuleActivities = "Activities"
	ModuleNotes      = "Notes"
)

// KnownModule reports whether the pipeline handles events for the module.
func KnownModule(module string) bool {
	switch module {
	case ModuleAccounts, ModuleContacts, ModuleDeals, ModuleTasks, ModuleActivities, ModuleNotes:
		return true
	}
	return false
}

// WebhookEvent is the canonical, deduplicated unit of work produced by the
// normalizer. It is immutable after creation: the processing side reads it but
// never mutates it.
type WebhookEvent struct {
	EventID        string                 `json:"event_id"`
	Module         string                 `json:"module"`
	EventType      EventType              `json:"event_type"`
	RecordIDs      []string               `json:"record_ids"`
	ModifiedFields []string               `json:"modified_fields,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Actor          string                 `json:"actor,omitempty"`
	ReceivedAt     time.Time              `json:"received_at"`
	RawSignature   string                 `json:"raw_signature,omitempty"`

	// FullResync marks an update whose changed fields could not be
	// determined; the adapter syncs the whole record instead of relying on
	// partial-field logic.
	FullResync bool `json:"full_resync,omitempty"`
}

// QueueEntry wraps a WebhookEvent with retry bookkeeping. Entries are treated
// as immutable snapshots: a retry constructs a new entry via NextAttempt and
// re-enqueues it, the dequeued original is never pushed back.
type QueueEntry struct {
	Event           WebhookEvent `json:"event"`
	AttemptCount    int          `json:"attempt_count"`
	FirstEnqueuedAt time.Time    `json:"first_enqueued_at"`
	LastAttemptAt   time.Time    `json:"last_attempt_at,omitempty"`
	NextEligibleAt  time.Time    `json:"next_eligible_at,omitempty"`
}

// NewQueueEntry builds the initial entry for a freshly accepted event.
func NewQueueEntry(event WebhookEvent, now time.Time) QueueEntry {
	return QueueEntry{
		Event:           event,
		AttemptCount:    0,
		FirstEnqueuedAt: now.UTC(),
	}
}

// NextAttempt returns a copy of the entry with the attempt count incremented
// and the retry schedule stamped.
func (e QueueEntry) NextAttempt(now, eligible time.Time) QueueEntry {
	next := e
	next.AttemptCount = e.AttemptCount + 1
	next.LastAttemptAt = now.UTC()
	next.NextEligibleAt = eligible.UTC()
	return next
}

// Failure categories recorded on dead letter records.
const (
	FailurePermanent        = "permanent"
	FailureRetriesExhausted = "retries_exhausted"
	FailureUnknownModule    = "unknown_module"
)

// FailureReason describes why an entry was dead-lettered.
type FailureReason struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// DeadLetterRecord is the terminal state of an entry that permanently failed
// or exhausted its retry budget. Reprocessing re-injects a fresh QueueEntry
// with the attempt count reset.
type DeadLetterRecord struct {
	Entry    QueueEntry    `json:"entry"`
	Reason   FailureReason `json:"failure_reason"`
	FailedAt time.Time     `json:"failed_at"`
}
