// Package cache provides the durable, expiring response cache that sits in
// front of the network layer.
//
// Entries are keyed by Key(endpoint, params): a SHA-256 over a canonical
// JSON document in which parameter values are normalized (integers, floats,
// booleans, strings and flat sequences) and map keys are sorted. Values that
// cannot be normalized fail with *SerializationError.
//
// # Stores
//
//   - SQLStore: one api_cache table (key, value JSON, expires_at) through
//     GORM. OpenSQLite uses an embedded database file (DefaultPath);
//     OpenPostgres targets a shared PostgreSQL.
//   - RedisStore: one hash per entry with pluggable Codec (JSON, msgpack, CBOR).
//   - TieredStore: ristretto memory tier in front of any Store.
//
// # Expiry
//
// Set with ttl > 0 records expires_at = now + ttl; ttl <= 0 never expires.
// Get treats an entry whose expiry has passed as ErrCacheMiss but leaves the
// row in place. Clear physically purges expired rows:
//
//	store, err := cache.OpenSQLite(cache.DefaultPath, cache.SQLConfig{})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	key, err := cache.Key("https://api.example.com/v1/items", map[string]any{"page": 1})
//	if err != nil {
//		return err // *cache.SerializationError
//	}
//	if err := store.Set(ctx, key, map[string]any{"ok": true}, time.Hour); err != nil {
//		return err
//	}
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from network
//	}
//	purged, err := store.Clear(ctx)
//
// # Metrics
//
//   - apicaller_cache_hits_total{layer} - hits by layer (sql, redis, memory)
//   - apicaller_cache_misses_total - misses, including expired reads
//   - apicaller_cache_errors_total{operation} - store errors
//   - apicaller_cache_purged_total - expired entries removed by Clear
package cache
