package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		op   string
		want EventType
	}{
		{"create", EventCreate},
		{"insert", EventCreate},
		{"Create", EventCreate},
		{"update", EventUpdate},
		{"edit", EventUpdate},
		{"Edit", EventUpdate},
		{"delete", EventDelete},
		{"restore", EventRestore},
		{"undelete", EventRestore},
	}
	for _, tt := range tests {
		got, err := ParseEventType(tt.op)
		require.NoError(t, err, tt.op)
		assert.Equal(t, tt.want, got, tt.op)
	}

	for _, op := range []string{"", "merge", "upsert", "CREATE"} {
		_, err := ParseEventType(op)
		assert.Error(t, err, op)
	}
}

func TestKnownModule(t *testing.T) {
	for _, m := range []string{ModuleAccounts, ModuleContacts, ModuleDeals, ModuleTasks, ModuleActivities, ModuleNotes} {
		assert.True(t, KnownModule(m), m)
	}
	assert.False(t, KnownModule("Quotes"))
	assert.False(t, KnownModule("accounts"))
	assert.False(t, KnownModule(""))
}

func TestQueueEntry_NextAttemptCopies(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := NewQueueEntry(WebhookEvent{EventID: "ev-1"}, now)

	assert.Equal(t, 0, entry.AttemptCount)
	assert.Equal(t, now, entry.FirstEnqueuedAt)

	later := now.Add(time.Minute)
	retry := entry.NextAttempt(later, later.Add(4*time.Second))

	assert.Equal(t, 1, retry.AttemptCount)
	assert.Equal(t, later, retry.LastAttemptAt)
	assert.Equal(t, later.Add(4*time.Second), retry.NextEligibleAt)
	assert.Equal(t, now, retry.FirstEnqueuedAt)

	// The original snapshot stays untouched.
	assert.Equal(t, 0, entry.AttemptCount)
	assert.True(t, entry.NextEligibleAt.IsZero())

	second := retry.NextAttempt(later.Add(time.Minute), later.Add(2*time.Minute))
	assert.Equal(t, 2, second.AttemptCount)
	assert.Equal(t, 1, retry.AttemptCount)
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsPermanent(Transient(base)))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsTransient(Permanent(base)))

	// Classification survives wrapping.
	wrapped := fmt.Errorf("sync account: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))

	// Unclassified errors are neither; callers treat them as transient.
	assert.False(t, IsPermanent(base))
	assert.False(t, IsTransient(base))

	assert.NoError(t, Transient(nil))
	assert.NoError(t, Permanent(nil))
	assert.ErrorIs(t, Transient(base), base)
}
