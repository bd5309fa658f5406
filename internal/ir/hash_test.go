package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIdempotencyKeyStable(t *testing.T) {
	payload := Document{"text": "buy milk", "n": 1.0}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	k1, err := DeriveIdempotencyKey("user_message", payload, at)
	require.NoError(t, err)
	k2, err := DeriveIdempotencyKey("user_message", payload, at.Add(3*time.Hour))
	require.NoError(t, err)

	// Non-timer stimuli dedupe on content alone: a webhook re-delivered
	// hours later is still the same stimulus.
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestDeriveIdempotencyKeyDistinguishesTypeAndPayload(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := Document{"text": "buy milk"}

	base, err := DeriveIdempotencyKey("user_message", payload, at)
	require.NoError(t, err)

	otherType, err := DeriveIdempotencyKey("user_correction", payload, at)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherType)

	otherPayload, err := DeriveIdempotencyKey("user_message", Document{"text": "call mom"}, at)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherPayload)
}

func TestDeriveIdempotencyKeyTimerBucketing(t *testing.T) {
	payload := Document{}
	at := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)

	sameBucket, err := DeriveIdempotencyKey("proactive_pulse", payload, at.Add(20*time.Second))
	require.NoError(t, err)
	base, err := DeriveIdempotencyKey("proactive_pulse", payload, at)
	require.NoError(t, err)
	assert.Equal(t, base, sameBucket, "ticks within one bucket are one stimulus")

	nextBucket, err := DeriveIdempotencyKey("proactive_pulse", payload, at.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, base, nextBucket, "ticks in distinct buckets are distinct stimuli")
}

func TestHashDocumentIgnoresKeyOrderAndNumericForm(t *testing.T) {
	h1, err := HashDocument(Document{"a": 1.0, "b": "x"})
	require.NoError(t, err)
	h2, err := HashDocument(Document{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := HashDocument(Document{"a": 2.0, "b": "x"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHashDomainsAreSeparated(t *testing.T) {
	doc := Document{"text": "hi"}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	dh, err := HashDocument(doc)
	require.NoError(t, err)
	ik, err := DeriveIdempotencyKey("user_message", doc, at)
	require.NoError(t, err)
	assert.NotEqual(t, dh, ik)
}

func TestMustDeriveIdempotencyKeyPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustDeriveIdempotencyKey("user_message", Document{"bad": make(chan int)}, time.Now())
	})
}
