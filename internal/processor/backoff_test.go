package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_ExponentialToCap(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 30 * time.Second}

	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 30*time.Second, b.Delay(5))
	assert.Equal(t, 30*time.Second, b.Delay(6))
	assert.Equal(t, 30*time.Second, b.Delay(100))
}

func TestBackoff_Defaults(t *testing.T) {
	var b Backoff

	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 30*time.Second, b.Delay(10))
	// Attempts below one clamp to the first delay.
	assert.Equal(t, 2*time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(-3))
}

func TestBackoff_NonDecreasing(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: time.Minute}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Minute)
		prev = d
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 30 * time.Second, Jitter: true}

	// Jitter adds at most 20% on top of the deterministic delay.
	for i := 0; i < 200; i++ {
		d := b.Delay(3)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 8*time.Second+8*time.Second/5)
	}
}

func TestBackoff_JitterNeverExceedsCap(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 30 * time.Second, Jitter: true}

	// At and beyond the cap the jittered delay clamps to the cap exactly.
	for attempt := 5; attempt <= 12; attempt++ {
		for i := 0; i < 50; i++ {
			assert.Equal(t, 30*time.Second, b.Delay(attempt), "attempt %d", attempt)
		}
	}
}

func TestBackoff_OverflowClamps(t *testing.T) {
	b := Backoff{Base: time.Hour, Cap: 2 * time.Hour}
	// Huge attempt numbers must not wrap negative.
	assert.Equal(t, 2*time.Hour, b.Delay(1000))
}
