package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content-derived identity.
// Version suffix enables future algorithm migration.
const (
	DomainIdempotency = "kairon/idempotency/v1"
	DomainDocument    = "kairon/document/v1"
)

// TimeBucket is the coarse bucket folded into derived idempotency keys for
// timer-triggered stimuli. The upstream scheduler fires at minute
// granularity, so two ticks inside one bucket are the same stimulus.
const TimeBucket = time.Minute

// timerEventTypes marks event types whose payloads alone do not distinguish
// occurrences (a pulse payload is identical tick after tick).
var timerEventTypes = map[string]bool{
	"proactive_pulse": true,
	"timer":           true,
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashDocument computes a content hash of a document over its canonical JSON
// form. Stable across restarts and replays given the same content.
func HashDocument(doc Document) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("HashDocument: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// DeriveIdempotencyKey computes a deterministic idempotency key for a
// stimulus whose source supplied none.
//
// The key hashes the event type and payload; for timer-triggered event types
// it also folds in the receive time truncated to TimeBucket, since identical
// payloads on distinct ticks are distinct stimuli. For all other types,
// identical payloads ARE the same stimulus regardless of arrival time
// (webhook re-delivery must collapse).
func DeriveIdempotencyKey(eventType string, payload Document, receivedAt time.Time) (string, error) {
	obj := map[string]any{
		"event_type": eventType,
		"payload":    map[string]any(payload),
	}
	if timerEventTypes[eventType] {
		obj["bucket"] = receivedAt.UTC().Truncate(TimeBucket).Format(time.RFC3339)
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DeriveIdempotencyKey: %w", err)
	}
	return hashWithDomain(DomainIdempotency, canonical), nil
}

// MustDeriveIdempotencyKey is like DeriveIdempotencyKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDeriveIdempotencyKey(eventType string, payload Document, receivedAt time.Time) string {
	key, err := DeriveIdempotencyKey(eventType, payload, receivedAt)
	if err != nil {
		panic(err)
	}
	return key
}
