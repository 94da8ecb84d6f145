package cache

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced Clock shared by a store under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestEntry_IsExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"no expiry", time.Time{}, false},
		{"expired entry", now.Add(-1 * time.Hour), true},
		{"valid entry", now.Add(1 * time.Hour), false},
		{"expires exactly now", now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{ExpiresAt: tt.expires}
			if got := entry.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	now := time.Now()

	if ttl := (&Entry{}).TTL(now); ttl != 0 {
		t.Errorf("TTL without expiry = %v, want 0", ttl)
	}
	if ttl := (&Entry{ExpiresAt: now.Add(-time.Minute)}).TTL(now); ttl != 0 {
		t.Errorf("TTL of expired entry = %v, want 0", ttl)
	}
	if ttl := (&Entry{ExpiresAt: now.Add(time.Minute)}).TTL(now); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
}

func TestExpiryMillisRoundTrip(t *testing.T) {
	if toMillis(time.Time{}) != nil {
		t.Error("zero time should persist as nil")
	}
	if !fromMillis(nil).IsZero() {
		t.Error("nil should load as zero time")
	}

	at := time.UnixMilli(1767268800123)
	got := fromMillis(toMillis(at))
	if !got.Equal(at) {
		t.Errorf("round trip = %v, want %v", got, at)
	}

	if !expiresAt(at, 0).IsZero() {
		t.Error("ttl 0 should never expire")
	}
	if got := expiresAt(at, time.Second); !got.Equal(at.Add(time.Second)) {
		t.Errorf("expiresAt = %v, want %v", got, at.Add(time.Second))
	}
}
