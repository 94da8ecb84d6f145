package cache

import (
	"time"
)

// Entry is a cached response value.
type Entry struct {
	// Key is the cache key (see Key)
	Key string `json:"key"`

	// Value is the decoded JSON response body
	Value any `json:"value"`

	// ExpiresAt is when the entry becomes invisible to reads.
	// The zero time means the entry never expires.
	ExpiresAt time.Time `json:"expires_at"`
}

// HasExpiry reports whether the entry carries an expiry.
func (e *Entry) HasExpiry() bool {
	return !e.ExpiresAt.IsZero()
}

// IsExpired returns true if the entry has an expiry at or before now.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.HasExpiry() && !now.Before(e.ExpiresAt)
}

// TTL returns the time until expiration relative to now.
// Returns 0 for expired entries and for entries without expiry.
func (e *Entry) TTL(now time.Time) time.Duration {
	if !e.HasExpiry() {
		return 0
	}
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// expiresAt computes the expiry for a write at now. ttl <= 0 means never.
func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// toMillis converts an expiry to the persisted integer form (nil = never).
func toMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// fromMillis is the inverse of toMillis.
func fromMillis(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ms)
}
