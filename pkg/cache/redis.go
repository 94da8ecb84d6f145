package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "apicaller:"

// Hash fields of a Redis entry.
const (
	redisFieldValue     = "value"
	redisFieldExpiresAt = "expires_at"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is required
	Client redis.UniversalClient

	// Prefix namespaces keys (default DefaultRedisPrefix)
	Prefix string

	// Codec encodes values (default JSONCodec)
	Codec Codec

	// Clock overrides time.Now for expiry decisions
	Clock Clock

	// CloseClient closes Client on Close; set only when the store owns it
	CloseClient bool

	// ScanCount is the SCAN batch hint used by Clear (default 100)
	ScanCount int64
}

// RedisStore keeps each entry in a hash with a value field and an optional
// expires_at field (Unix milliseconds). Entries with a TTL also carry a
// native Redis expiry so Redis can reclaim them without Clear.
type RedisStore struct {
	rdb         redis.UniversalClient
	prefix      string
	codec       Codec
	now         Clock
	closeClient bool
	scanCount   int64
	logger      zerolog.Logger
	closed      atomic.Bool
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	s := &RedisStore{
		rdb:         cfg.Client,
		prefix:      cfg.Prefix,
		codec:       cfg.Codec,
		now:         clockOrDefault(cfg.Clock),
		closeClient: cfg.CloseClient,
		scanCount:   cfg.ScanCount,
		logger:      logging.NewLogger(logging.ComponentCache),
	}
	if s.prefix == "" {
		s.prefix = DefaultRedisPrefix
	}
	if s.codec == nil {
		s.codec = JSONCodec{}
	}
	if s.scanCount <= 0 {
		s.scanCount = 100
	}
	return s, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	vals, err := s.rdb.HMGet(ctx, s.redisKey(key), redisFieldValue, redisFieldExpiresAt).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hmget: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	raw, ok := vals[0].(string)
	if !ok {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: unexpected value type %T", ErrInvalidEntry, vals[0])
	}
	expires, err := parseRedisExpiry(vals[1])
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	entry := &Entry{Key: key, ExpiresAt: expires}
	if entry.IsExpired(s.now()) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	value, err := s.codec.Decode([]byte(raw))
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	entry.Value = value

	CacheHits.WithLabelValues("redis").Inc()
	return entry, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}

	data, err := s.codec.Encode(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode cache value (%s): %w", s.codec.Name(), err)
	}

	rk := s.redisKey(key)
	fields := []any{redisFieldValue, data}
	if exp := expiresAt(s.now(), ttl); !exp.IsZero() {
		fields = append(fields, redisFieldExpiresAt, exp.UnixMilli())
	}

	// Replace the whole hash so a previous expires_at never survives an overwrite
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, rk)
	pipe.HSet(ctx, rk, fields...)
	if ttl > 0 {
		pipe.PExpire(ctx, rk, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear implements Store. It scans the prefix and deletes entries whose
// expires_at has passed by the store clock.
func (s *RedisStore) Clear(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	now := s.now()
	var removed int64
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		rk := iter.Val()
		raw, err := s.rdb.HGet(ctx, rk, redisFieldExpiresAt).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return removed, fmt.Errorf("redis hget %s: %w", rk, err)
		}
		expires, err := parseRedisExpiry(raw)
		if err != nil || expires.IsZero() || now.Before(expires) {
			continue
		}
		n, err := s.rdb.Del(ctx, rk).Result()
		if err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return removed, fmt.Errorf("redis del %s: %w", rk, err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return removed, fmt.Errorf("redis scan: %w", err)
	}

	CachePurged.Add(float64(removed))
	s.logger.Debug().
		Str("prefix", s.prefix).
		Int64("purged", removed).
		Msg("Purged expired entries")
	return removed, nil
}

// Close implements Store. Repeated calls are no-ops.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) || !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func parseRedisExpiry(v any) (time.Time, error) {
	if v == nil {
		return time.Time{}, nil
	}
	str, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unexpected expires_at type %T", ErrInvalidEntry, v)
	}
	if str == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expires_at: %v", ErrInvalidEntry, err)
	}
	return time.UnixMilli(ms), nil
}

var _ Store = (*RedisStore)(nil)
