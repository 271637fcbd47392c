// Package cache provides the namespaced TTL cache backing the fetch
// pipeline, with a memory tier and an optional durable redis tier.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Key addresses one cached payload. Namespace is the TTL category
// ("quote", "indicator", "reference"), Name the data key ("SPY").
type Key struct {
	Namespace string
	Name      string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Namespace, k.Name)
}

// Entry is one cached payload with its integrity digest.
type Entry struct {
	Payload  []byte        `json:"payload"`
	StoredAt time.Time     `json:"storedAt"`
	TTL      time.Duration `json:"ttl"`
	Digest   string        `json:"digest"`
}

// Fresh reports whether the entry is within its TTL at the given instant.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Verify checks the payload against the stored digest.
func (e *Entry) Verify() bool {
	return digest(e.Payload) == e.Digest
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// NewEntry stamps a payload with its digest and store time.
func NewEntry(payload []byte, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Payload:  payload,
		StoredAt: now,
		TTL:      ttl,
		Digest:   digest(payload),
	}
}
