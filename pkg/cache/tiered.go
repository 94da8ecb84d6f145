package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// TieredConfig configures a TieredStore.
type TieredConfig struct {
	// Back is the durable store; required
	Back Store

	// FrontTTL caps how long an entry lives in memory (default 5m)
	FrontTTL time.Duration

	// MaxEntries bounds the in-memory tier (default 10000)
	MaxEntries int64

	// Clock must match the clock of Back
	Clock Clock
}

// TieredStore serves reads from an in-process ristretto cache in front of a
// durable Store. Writes go to the durable store first. An entry never
// outlives its own expiry in the front tier.
type TieredStore struct {
	front    *ristretto.Cache
	back     Store
	frontTTL time.Duration
	now      Clock
}

// NewTieredStore wraps cfg.Back with an in-memory tier.
func NewTieredStore(cfg TieredConfig) (*TieredStore, error) {
	if cfg.Back == nil {
		return nil, fmt.Errorf("back store is required")
	}
	if cfg.FrontTTL <= 0 {
		cfg.FrontTTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}

	front, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory tier: %w", err)
	}

	return &TieredStore{
		front:    front,
		back:     cfg.Back,
		frontTTL: cfg.FrontTTL,
		now:      clockOrDefault(cfg.Clock),
	}, nil
}

// Get implements Store. Returned values are shared with the memory tier and
// must not be mutated.
func (s *TieredStore) Get(ctx context.Context, key string) (*Entry, error) {
	now := s.now()
	if v, ok := s.front.Get(key); ok {
		if e, ok := v.(*Entry); ok && !e.IsExpired(now) {
			CacheHits.WithLabelValues("memory").Inc()
			cp := *e
			return &cp, nil
		}
		s.front.Del(key)
	}

	entry, err := s.back.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.remember(entry, now)
	return entry, nil
}

// Set implements Store.
func (s *TieredStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.back.Set(ctx, key, value, ttl); err != nil {
		s.front.Del(key)
		return err
	}
	now := s.now()
	s.remember(&Entry{Key: key, Value: value, ExpiresAt: expiresAt(now, ttl)}, now)
	return nil
}

// Clear implements Store. Expired front entries are already invisible and
// age out on their own TTL.
func (s *TieredStore) Clear(ctx context.Context) (int64, error) {
	return s.back.Clear(ctx)
}

// Close implements Store and closes the back store.
func (s *TieredStore) Close() error {
	s.front.Close()
	return s.back.Close()
}

func (s *TieredStore) remember(e *Entry, now time.Time) {
	ttl := s.frontTTL
	if e.HasExpiry() {
		remaining := e.TTL(now)
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	cp := *e
	s.front.SetWithTTL(e.Key, &cp, 1, ttl)
}

var _ Store = (*TieredStore)(nil)
